package goldap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosSettings is the resolved GSSAPI configuration of one bind.
type kerberosSettings struct {
	username string
	realm    string
	password string
	keytab   string
	ccache   string
	krb5conf string
}

// resolveKerberosSettings derives GSSAPI settings from cfg and the bind
// request. The principal is the bind DN, optionally qualified as user@REALM.
func resolveKerberosSettings(cfg *ldapclient.ConnectionConfig, req *ldapclient.BindRequest) (*kerberosSettings, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	s := &kerberosSettings{
		username: req.DN,
		realm:    cfg.KerberosRealm,
		password: req.Password,
		keytab:   cfg.KerberosKeytab,
		ccache:   cfg.KerberosCCache,
		krb5conf: cfg.KerberosConfig,
	}
	if s.krb5conf == "" {
		s.krb5conf = defaultKrb5Conf
	}
	if user, realm, ok := strings.Cut(s.username, "@"); ok {
		s.username = user
		if s.realm == "" {
			s.realm = realm
		}
	}

	if s.realm == "" {
		return nil, errors.New("kerberos realm is required (set the Kerberos realm or include it in the principal)")
	}
	if s.username == "" {
		return nil, errors.New("username (principal) is required for Kerberos authentication")
	}

	hasCredentials := fileExists(s.ccache) ||
		fileExists(defaultCCachePath()) ||
		fileExists(s.keytab) ||
		fileExists(defaultKeytabPath()) ||
		s.password != ""
	if !hasCredentials {
		return nil, errors.New("no suitable Kerberos credentials found: provide a credential cache, keytab or password, or ensure a default credential cache or keytab exists")
	}
	return s, nil
}

// newGSSAPIClient creates a GSSAPI client from the first available source:
// explicit credential cache, default credential cache, explicit keytab,
// default keytab, then password.
func newGSSAPIClient(ctx context.Context, s *kerberosSettings) (*gssapi.Client, error) {
	if !fileExists(s.krb5conf) {
		return nil, fmt.Errorf("Kerberos configuration file not found at %s. "+
			"Either create %s or set a custom path. Example minimal configuration:\n%s",
			s.krb5conf, s.krb5conf, exampleKrb5Conf(s.realm))
	}

	source, client, err := func() (string, *gssapi.Client, error) {
		if fileExists(s.ccache) {
			c, err := gssapi.NewClientFromCCache(s.ccache, s.krb5conf, krb5client.DisablePAFXFAST(true))
			return "ccache", c, err
		}
		if ccache := defaultCCachePath(); fileExists(ccache) {
			c, err := gssapi.NewClientFromCCache(ccache, s.krb5conf, krb5client.DisablePAFXFAST(true))
			return "default_ccache", c, err
		}
		if fileExists(s.keytab) {
			c, err := gssapi.NewClientWithKeytab(s.username, s.realm, s.keytab, s.krb5conf, krb5client.DisablePAFXFAST(true))
			return "keytab", c, err
		}
		if keytab := defaultKeytabPath(); fileExists(keytab) {
			c, err := gssapi.NewClientWithKeytab(s.username, s.realm, keytab, s.krb5conf, krb5client.DisablePAFXFAST(true))
			return "default_keytab", c, err
		}
		if s.password != "" {
			c, err := gssapi.NewClientWithPassword(s.username, s.realm, s.password, s.krb5conf, krb5client.DisablePAFXFAST(true))
			return "password", c, err
		}
		return "", nil, errors.New("no suitable credentials found for Kerberos authentication")
	}()

	fields := map[string]any{
		"principal": s.username,
		"realm":     s.realm,
		"source":    source,
	}
	if err != nil {
		fields["error"] = err.Error()
		ldapclient.LogKerberosEvent(ctx, "ticket_acquisition_failed", fields)
		return nil, err
	}
	ldapclient.LogKerberosEvent(ctx, "credentials_cached", fields)
	return client, nil
}

// servicePrincipal returns the SPN for endpoint, honouring the configured
// override.
func servicePrincipal(cfg *ldapclient.ConnectionConfig, endpoint string) (string, error) {
	if cfg == nil {
		return "", errors.New("configuration is required for service principal")
	}
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid LDAP URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("hostname is required for service principal: %s", endpoint)
	}
	return "ldap/" + host, nil
}

// gssapiBind authenticates conn with Kerberos.
func gssapiBind(ctx context.Context, conn *ldap.Conn, cfg *ldapclient.ConnectionConfig, endpoint string, req *ldapclient.BindRequest) error {
	settings, err := resolveKerberosSettings(cfg, req)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	spn, err := servicePrincipal(cfg, endpoint)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}
	ldapclient.LogKerberosEvent(ctx, "principal_resolved", map[string]any{
		"principal": settings.username,
		"realm":     settings.realm,
		"spn":       spn,
	})

	client, err := newGSSAPIClient(ctx, settings)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
		client.Close()
	}()

	return conn.GSSAPIBind(client, spn, "")
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if keytab := os.Getenv("KRB5_KTNAME"); keytab != "" {
		return strings.TrimPrefix(keytab, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists reports whether path names a readable file.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func exampleKrb5Conf(realm string) string {
	if realm == "" {
		return "[libdefaults]\n    default_realm = YOUR.REALM.COM\n\n[realms]\n    YOUR.REALM.COM = {\n        kdc = your-dc.realm.com:88\n    }"
	}

	domain := strings.ToLower(realm)
	kdc := "dc." + domain
	return fmt.Sprintf(`[libdefaults]
    default_realm = %[1]s
    dns_lookup_realm = false
    dns_lookup_kdc = false

[realms]
    %[1]s = {
        kdc = %[2]s:88
        admin_server = %[2]s:749
    }

[domain_realm]
    .%[3]s = %[1]s
    %[3]s = %[1]s`, realm, kdc, domain)
}
