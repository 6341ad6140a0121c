package ldap

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, 10*time.Second, config.ConnectTimeout)
	assert.Equal(t, 30*time.Second, config.ResponseTimeout)
	assert.Equal(t, 1, config.OperationRetry)
	assert.Zero(t, config.OperationRetryWait)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, 5*time.Minute, config.MaxIdleTime)
	assert.Equal(t, StrategyDefault, config.Strategy)
	assert.Equal(t, SortUnordered, config.SortBehavior)
	require.NotNil(t, config.TLSConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), config.TLSConfig.MinVersion)
	assert.False(t, config.HasAuthentication())
}

func TestConnectionConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(c *ConnectionConfig)
		expectError string
	}{
		{name: "valid", modify: func(*ConnectionConfig) {}},
		{name: "unbounded retry", modify: func(c *ConnectionConfig) { c.OperationRetry = -1 }},
		{name: "missing URL", modify: func(c *ConnectionConfig) { c.LDAPURL = "  " }, expectError: "LDAP URL must be specified"},
		{name: "negative connect timeout", modify: func(c *ConnectionConfig) { c.ConnectTimeout = -time.Second }, expectError: "ConnectTimeout cannot be negative"},
		{name: "negative response timeout", modify: func(c *ConnectionConfig) { c.ResponseTimeout = -time.Second }, expectError: "ResponseTimeout cannot be negative"},
		{name: "retry below -1", modify: func(c *ConnectionConfig) { c.OperationRetry = -2 }, expectError: "OperationRetry must be -1 or non-negative"},
		{name: "negative retry wait", modify: func(c *ConnectionConfig) { c.OperationRetryWait = -time.Second }, expectError: "OperationRetryWait cannot be negative"},
		{name: "negative backoff", modify: func(c *ConnectionConfig) { c.OperationRetryBackoff = -1 }, expectError: "OperationRetryBackoff cannot be negative"},
		{name: "negative pool size", modify: func(c *ConnectionConfig) { c.MaxConnections = -1 }, expectError: "MaxConnections cannot be negative"},
		{name: "pool too large", modify: func(c *ConnectionConfig) { c.MaxConnections = MaxConnectionPoolLimit + 1 }, expectError: "MaxConnections too high"},
		{name: "negative idle time", modify: func(c *ConnectionConfig) { c.MaxIdleTime = -time.Second }, expectError: "MaxIdleTime cannot be negative"},
		{name: "unknown mechanism", modify: func(c *ConnectionConfig) { c.SASLMechanism = "PLAIN" }, expectError: "unsupported SASL mechanism: PLAIN"},
		{name: "external", modify: func(c *ConnectionConfig) { c.SASLMechanism = SASLExternal }},
		{
			name:        "gssapi without realm",
			modify:      func(c *ConnectionConfig) { c.SASLMechanism = SASLGSSAPI; c.BindDN = "svc" },
			expectError: "KerberosRealm is required",
		},
		{name: "gssapi realm in principal", modify: func(c *ConnectionConfig) { c.SASLMechanism = SASLGSSAPI; c.BindDN = "svc@EXAMPLE.COM" }},
		{name: "gssapi with realm", modify: func(c *ConnectionConfig) { c.SASLMechanism = SASLGSSAPI; c.KerberosRealm = "EXAMPLE.COM" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			config.LDAPURL = "ldap://dc1.example.com"
			tt.modify(config)

			err := config.Validate()
			if tt.expectError != "" {
				assert.ErrorContains(t, err, tt.expectError)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestConnectionConfig_BindRequest(t *testing.T) {
	config := DefaultConfig()
	assert.Nil(t, config.BindRequest())

	config.BindDN = "cn=admin,dc=example,dc=com"
	config.BindPassword = "secret"
	assert.True(t, config.HasAuthentication())
	assert.Equal(t, &BindRequest{DN: "cn=admin,dc=example,dc=com", Password: "secret"}, config.BindRequest())

	external := &ConnectionConfig{SASLMechanism: SASLExternal}
	assert.True(t, external.HasAuthentication())
	assert.Equal(t, SASLExternal, external.BindRequest().SASLMechanism)
}

func TestConnectionConfig_RetryPolicy(t *testing.T) {
	config := DefaultConfig()
	config.OperationRetry = 3
	config.OperationRetryWait = 2 * time.Second
	config.OperationRetryBackoff = 2

	assert.Equal(t, RetryPolicy{MaxRetries: 3, Wait: 2 * time.Second, Backoff: 2}, config.RetryPolicy())
}

func TestConnectionConfig_Clone(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURL = "ldap://a"

	clone := config.Clone()
	clone.LDAPURL = "ldap://b"
	clone.TLSConfig.ServerName = "b"

	assert.Equal(t, "ldap://a", config.LDAPURL)
	assert.Empty(t, config.TLSConfig.ServerName)

	bare := (&ConnectionConfig{LDAPURL: "ldap://a"}).Clone()
	assert.Nil(t, bare.TLSConfig)
}

func TestConnectionConfig_StringOmitsPassword(t *testing.T) {
	config := DefaultConfig()
	config.LDAPURL = "ldap://a"
	config.BindDN = "cn=admin"
	config.BindPassword = "hunter2"

	s := config.String()
	assert.Contains(t, s, "ldapURL=ldap://a")
	assert.Contains(t, s, "bindDN=cn=admin")
	assert.NotContains(t, s, "hunter2")
}
