// Package goldap implements the directory client Provider on top of
// github.com/go-ldap/ldap/v3.
package goldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// DefaultSearchBufferSize is the number of search items buffered between
// the network reader and the search iterator.
const DefaultSearchBufferSize = 64

// Provider opens go-ldap connections.
type Provider struct {
	controls   *ControlProcessor
	bufferSize int
}

// Option configures a Provider.
type Option func(*Provider)

// WithControlHandlers registers additional control handlers.
func WithControlHandlers(handlers ...ControlHandler) Option {
	return func(p *Provider) {
		for _, h := range handlers {
			p.controls.Register(h)
		}
	}
}

// WithSearchBufferSize sets the search item buffer size. Zero makes every
// item a synchronous hand-off.
func WithSearchBufferSize(n int) Option {
	return func(p *Provider) {
		p.bufferSize = max(n, 0)
	}
}

// NewProvider creates a provider with the default control handlers.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		controls:   NewControlProcessor(),
		bufferSize: DefaultSearchBufferSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Controls returns the provider's control processor.
func (p *Provider) Controls() *ControlProcessor {
	return p.controls
}

// Open implements ldapclient.Provider. A whitespace-separated endpoint list
// is tried in order and the first reachable URL wins.
func (p *Provider) Open(ctx context.Context, endpoint string, config *ldapclient.ConnectionConfig) (ldapclient.ProviderConnection, error) {
	if config == nil {
		config = ldapclient.DefaultConfig()
	}

	urls := strings.Fields(endpoint)
	if len(urls) == 0 {
		return nil, errors.New("LDAP URL cannot be empty")
	}

	var errs []error
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := dial(ctx, u, config)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return &session{
			conn:       conn,
			endpoint:   u,
			config:     config,
			controls:   p.controls,
			bufferSize: p.bufferSize,
		}, nil
	}
	return nil, errors.Join(errs...)
}

// dial connects to one URL, upgrading plain connections with StartTLS when
// configured.
func dial(ctx context.Context, ldapURL string, config *ldapclient.ConnectionConfig) (*ldap.Conn, error) {
	u, err := url.Parse(ldapURL)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %s: %w", ldapURL, err)
	}

	tlsConfig := tlsConfigFor(config, u.Hostname())
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: config.ConnectTimeout})}
	if strings.EqualFold(u.Scheme, "ldaps") {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	start := time.Now()
	conn, err := ldap.DialURL(ldapURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", ldapURL, err)
	}

	if config.UseStartTLS && strings.EqualFold(u.Scheme, "ldap") {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed on %s: %w", ldapURL, err)
		}
	}

	if config.ResponseTimeout > 0 {
		conn.SetTimeout(config.ResponseTimeout)
	}

	tflog.SubsystemDebug(ctx, ldapclient.SubsystemLDAP, "Dialed LDAP server", map[string]any{
		"url":         ldapURL,
		"start_tls":   config.UseStartTLS,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return conn, nil
}

// tlsConfigFor returns a copy of the configured TLS settings with
// ServerName defaulting to host.
func tlsConfigFor(config *ldapclient.ConnectionConfig, host string) *tls.Config {
	var tlsConfig *tls.Config
	if config.TLSConfig != nil {
		tlsConfig = config.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	return tlsConfig
}
