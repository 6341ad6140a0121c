package ldap

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
)

// MaxConnectionPoolLimit is the maximum allowed connections in a pool.
const MaxConnectionPoolLimit = 100

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	LDAPURL         string             // One or more whitespace-separated endpoint URLs
	Strategy        ConnectionStrategy // Endpoint ordering
	ConnectTimeout  time.Duration      `default:"10s"` // Dial timeout
	ResponseTimeout time.Duration      `default:"30s"` // Per-operation timeout handed to the provider

	// TLS settings
	UseStartTLS bool        // Upgrade plain connections with StartTLS
	TLSConfig   *tls.Config // Custom TLS configuration

	// Authentication settings
	BindDN         string // DN for simple bind on connection initialization
	BindPassword   string // Password for simple bind
	SASLMechanism  string // EXTERNAL or GSSAPI
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosCCache string // Path to Kerberos credential cache
	KerberosSPN    string // Service principal override, defaults to ldap/<host>

	// Retry settings
	OperationRetry        int           `default:"1"` // Maximum retries, -1 for unbounded
	OperationRetryWait    time.Duration // Base delay between retries
	OperationRetryBackoff int           // Integer backoff multiplier

	// Pool settings
	MaxConnections int           `default:"10"` // Maximum connections in pool
	MaxIdleTime    time.Duration `default:"5m"` // Maximum idle time before connection cleanup

	// Search settings
	SortBehavior SortBehavior // Default ordering of search results
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	config := &ConnectionConfig{}
	if err := defaults.Set(config); err != nil {
		// Only reachable when a struct tag above is malformed.
		panic(fmt.Sprintf("invalid connection config defaults: %v", err))
	}
	config.TLSConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	return config
}

// Validate validates the connection configuration.
func (c *ConnectionConfig) Validate() error {
	if strings.TrimSpace(c.LDAPURL) == "" {
		return errors.New("LDAP URL must be specified")
	}

	if c.ConnectTimeout < 0 {
		return errors.New("ConnectTimeout cannot be negative")
	}

	if c.ResponseTimeout < 0 {
		return errors.New("ResponseTimeout cannot be negative")
	}

	if c.OperationRetry < -1 {
		return errors.New("OperationRetry must be -1 or non-negative")
	}

	if c.OperationRetryWait < 0 {
		return errors.New("OperationRetryWait cannot be negative")
	}

	if c.OperationRetryBackoff < 0 {
		return errors.New("OperationRetryBackoff cannot be negative")
	}

	if c.MaxConnections < 0 {
		return errors.New("MaxConnections cannot be negative")
	}

	if c.MaxConnections > MaxConnectionPoolLimit {
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	}

	if c.MaxIdleTime < 0 {
		return errors.New("MaxIdleTime cannot be negative")
	}

	switch c.SASLMechanism {
	case "", SASLExternal:
	case SASLGSSAPI:
		if c.KerberosRealm == "" && !strings.Contains(c.BindDN, "@") {
			return errors.New("KerberosRealm is required for GSSAPI authentication unless the principal includes a realm")
		}
	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", c.SASLMechanism)
	}

	return nil
}

// HasAuthentication checks if connection initialization performs a bind.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.BindDN != "" || c.SASLMechanism != ""
}

// BindRequest returns the bind performed on connection initialization, or
// nil when the connection stays anonymous.
func (c *ConnectionConfig) BindRequest() *BindRequest {
	if !c.HasAuthentication() {
		return nil
	}
	return &BindRequest{DN: c.BindDN, Password: c.BindPassword, SASLMechanism: c.SASLMechanism}
}

// RetryPolicy returns a snapshot of the retry settings.
func (c *ConnectionConfig) RetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: c.OperationRetry,
		Wait:       c.OperationRetryWait,
		Backoff:    c.OperationRetryBackoff,
	}
}

// Clone returns a copy of the configuration.
func (c *ConnectionConfig) Clone() *ConnectionConfig {
	clone := *c
	if c.TLSConfig != nil {
		clone.TLSConfig = c.TLSConfig.Clone()
	}
	return &clone
}

// String returns a loggable form of the configuration without credentials.
func (c *ConnectionConfig) String() string {
	return fmt.Sprintf("[ldapURL=%s, strategy=%s, connectTimeout=%s, responseTimeout=%s, startTLS=%t, bindDN=%s, saslMechanism=%s, retry=%d, retryWait=%s, retryBackoff=%d]",
		c.LDAPURL, c.Strategy, c.ConnectTimeout, c.ResponseTimeout, c.UseStartTLS, c.BindDN, c.SASLMechanism,
		c.OperationRetry, c.OperationRetryWait, c.OperationRetryBackoff)
}
