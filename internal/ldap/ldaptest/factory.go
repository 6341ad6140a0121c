package ldaptest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/isometry/dirclient/internal/ldap"
)

// NewFactory creates a connection factory for ldapURL backed by p. Each
// configure function is applied to the default configuration first.
func NewFactory(t testing.TB, p ldap.Provider, ldapURL string, configure ...func(*ldap.ConnectionConfig)) *ldap.ConnectionFactory {
	t.Helper()

	config := ldap.DefaultConfig()
	config.LDAPURL = ldapURL
	for _, fn := range configure {
		fn(config)
	}

	factory, err := ldap.NewConnectionFactory(p, config)
	require.NoError(t, err)
	return factory
}

// Open opens a connection from factory and closes it when the test ends.
func Open(t testing.TB, factory *ldap.ConnectionFactory) *ldap.Connection {
	t.Helper()

	conn, err := factory.Open(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// Entries builds entries with a cn attribute from DNs of the form
// "cn=<value>,...".
func Entries(dns ...string) []*ldap.Entry {
	entries := make([]*ldap.Entry, len(dns))
	for i, dn := range dns {
		cn, _, _ := strings.Cut(strings.TrimPrefix(dn, "cn="), ",")
		entries[i] = ldap.NewEntry(dn, ldap.NewAttribute("cn", cn))
	}
	return entries
}
