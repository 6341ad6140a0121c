package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

func addConnectionFlags(flags *pflag.FlagSet) {
	defaults := ldapclient.DefaultConfig()

	// Connection settings
	flags.String("url", "", "whitespace-separated LDAP URLs, e.g. \"ldaps://dc1.example.com ldaps://dc2.example.com\"")
	flags.String("domain", "", "discover LDAP URLs from the DNS SRV records of this domain when --url is unset")
	flags.String("strategy", defaults.Strategy.String(), "endpoint strategy: DEFAULT, ACTIVE_PASSIVE, ROUND_ROBIN or RANDOM")
	flags.Duration("connect-timeout", defaults.ConnectTimeout, "dial timeout")
	flags.Duration("response-timeout", defaults.ResponseTimeout, "per-operation response timeout")

	// TLS settings
	flags.Bool("start-tls", false, "upgrade ldap:// connections with StartTLS")
	flags.Bool("tls-skip-verify", false, "skip server certificate verification")
	flags.String("tls-ca-cert-file", "", "path to a PEM CA certificate bundle")
	flags.String("tls-ca-cert", "", "PEM CA certificate content")
	flags.String("tls-client-cert-file", "", "path to a PEM client certificate")
	flags.String("tls-client-key-file", "", "path to the PEM client certificate key")

	// Authentication settings
	flags.String("bind-dn", "", "bind DN, or Kerberos principal for GSSAPI")
	flags.String("bind-password", "", "bind password")
	flags.String("sasl-mechanism", "", "SASL mechanism: EXTERNAL or GSSAPI")
	flags.String("kerberos-realm", "", "Kerberos realm for GSSAPI")
	flags.String("kerberos-keytab", "", "path to a Kerberos keytab")
	flags.String("kerberos-config", "", "path to krb5.conf")
	flags.String("kerberos-ccache", "", "path to a Kerberos credential cache")
	flags.String("kerberos-spn", "", "service principal override, defaults to ldap/<host>")

	// Retry settings
	flags.Int("retry", defaults.OperationRetry, "maximum operation retries, -1 for unbounded")
	flags.Duration("retry-wait", defaults.OperationRetryWait, "base delay between retries")
	flags.Int("retry-backoff", defaults.OperationRetryBackoff, "integer backoff multiplier")

	// Pool settings
	flags.Int("max-connections", defaults.MaxConnections, "maximum pooled connections")
	flags.Duration("max-idle-time", defaults.MaxIdleTime, "idle time before a pooled connection is closed")
}

// discoverURL fills the url setting from the SRV records of the domain
// setting when no URL is configured.
func discoverURL(ctx context.Context, v *viper.Viper, discovery *ldapclient.SRVDiscovery) error {
	domain := strings.TrimSpace(v.GetString("domain"))
	if strings.TrimSpace(v.GetString("url")) != "" || domain == "" {
		return nil
	}
	url, err := discovery.DiscoverURL(ctx, domain)
	if err != nil {
		return fmt.Errorf("failed to discover servers for %s: %w", domain, err)
	}
	v.Set("url", url)
	return nil
}

// buildConnectionConfig constructs the connection configuration from flags,
// environment variables and the config file.
func buildConnectionConfig(v *viper.Viper) (*ldapclient.ConnectionConfig, error) {
	config := ldapclient.DefaultConfig()

	config.LDAPURL = strings.Join(strings.Fields(v.GetString("url")), " ")
	if config.LDAPURL == "" {
		return nil, errors.New("an LDAP URL is required: set --url, --domain or DIRCLIENT_URL")
	}

	strategy, err := ldapclient.ParseConnectionStrategy(v.GetString("strategy"))
	if err != nil {
		return nil, err
	}
	config.Strategy = strategy
	config.ConnectTimeout = v.GetDuration("connect-timeout")
	config.ResponseTimeout = v.GetDuration("response-timeout")

	config.UseStartTLS = v.GetBool("start-tls")
	if config.TLSConfig, err = buildTLSConfig(v, config.TLSConfig); err != nil {
		return nil, err
	}

	config.BindDN = v.GetString("bind-dn")
	config.BindPassword = v.GetString("bind-password")
	config.SASLMechanism = strings.ToUpper(v.GetString("sasl-mechanism"))
	config.KerberosRealm = v.GetString("kerberos-realm")
	config.KerberosKeytab = v.GetString("kerberos-keytab")
	config.KerberosConfig = v.GetString("kerberos-config")
	config.KerberosCCache = v.GetString("kerberos-ccache")
	config.KerberosSPN = v.GetString("kerberos-spn")

	config.OperationRetry = v.GetInt("retry")
	config.OperationRetryWait = v.GetDuration("retry-wait")
	config.OperationRetryBackoff = v.GetInt("retry-backoff")

	config.MaxConnections = v.GetInt("max-connections")
	config.MaxIdleTime = v.GetDuration("max-idle-time")

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func buildTLSConfig(v *viper.Viper, base *tls.Config) (*tls.Config, error) {
	tlsConfig := base.Clone()
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if v.GetBool("tls-skip-verify") {
		tlsConfig.InsecureSkipVerify = true
	}

	caFile, caContent := v.GetString("tls-ca-cert-file"), v.GetString("tls-ca-cert")
	if caFile != "" || caContent != "" {
		pool, err := buildCertPool(caFile, caContent)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	certFile, keyFile := v.GetString("tls-client-cert-file"), v.GetString("tls-client-key-file")
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, errors.New("both tls-client-cert-file and tls-client-key-file must be set")
	}

	return tlsConfig, nil
}

// buildCertPool returns the system pool extended with the certificates
// from caFile and caContent.
func buildCertPool(caFile, caContent string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", caFile, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("invalid PEM format in CA certificate file %s", caFile)
		}
	}

	if caContent != "" {
		if !pool.AppendCertsFromPEM([]byte(caContent)) {
			return nil, errors.New("invalid PEM format in CA certificate content")
		}
	}

	return pool, nil
}
