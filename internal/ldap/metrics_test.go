package ldap_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirclient/internal/ldap"
	"github.com/isometry/dirclient/internal/ldap/ldaptest"
)

func newMeteredFactory(t *testing.T, p *ldaptest.Provider, ldapURL string, configure ...func(*ldap.ConnectionConfig)) (*ldap.ConnectionFactory, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics, err := ldap.NewMetrics(reg)
	require.NoError(t, err)

	config := ldap.DefaultConfig()
	config.LDAPURL = ldapURL
	for _, fn := range configure {
		fn(config)
	}
	factory, err := ldap.NewConnectionFactory(p, config, ldap.WithFactoryMetrics(metrics))
	require.NoError(t, err)
	assert.Same(t, metrics, factory.Metrics())
	return factory, reg
}

func TestMetrics_Connections(t *testing.T) {
	p := ldaptest.NewProvider()
	p.SetDown("ldap://a")
	factory, reg := newMeteredFactory(t, p, "ldap://a ldap://b", withStrategy(ldap.StrategyActivePassive))

	ldaptest.Open(t, factory)
	ldaptest.Open(t, factory)

	expected := `
# HELP dirclient_connection_attempts_failed_total Failed connection attempts, by endpoint.
# TYPE dirclient_connection_attempts_failed_total counter
dirclient_connection_attempts_failed_total{endpoint="ldap://a"} 2
# HELP dirclient_connections_opened_total Connections opened, by endpoint.
# TYPE dirclient_connections_opened_total counter
dirclient_connections_opened_total{endpoint="ldap://b"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dirclient_connection_attempts_failed_total", "dirclient_connections_opened_total"))
}

func TestMetrics_OperationsAndRetries(t *testing.T) {
	p := ldaptest.NewProvider(ldaptest.Entries(testDN)...)
	failFirst(p, "delete", 1)
	factory, reg := newMeteredFactory(t, p, "ldap://a", withRetry(1, 0, 0))
	conn := ldaptest.Open(t, factory)

	op := ldap.NewDeleteOperation(conn).AddResponseHandlers(
		ldap.MetricsResponseHandler[*ldap.DeleteRequest, ldap.Void]{Operation: "delete", Metrics: factory.Metrics()},
	)
	_, err := op.Execute(t.Context(), &ldap.DeleteRequest{DN: testDN})
	require.NoError(t, err)

	expected := `
# HELP dirclient_operation_retries_total Operation retries, by operation.
# TYPE dirclient_operation_retries_total counter
dirclient_operation_retries_total{operation="delete"} 1
# HELP dirclient_responses_total Successful responses, by operation and result code.
# TYPE dirclient_responses_total counter
dirclient_responses_total{operation="delete",result_code="0"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dirclient_operation_retries_total", "dirclient_responses_total"))

	count, err := testutil.GatherAndCount(reg, "dirclient_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetrics_SearchCache(t *testing.T) {
	p := ldaptest.NewProvider(people(2)...)
	factory, reg := newMeteredFactory(t, p, "ldap://a")
	conn := ldaptest.Open(t, factory)
	search := ldap.NewSearchOperation(conn,
		ldap.WithCache(ldap.NewSearchCache(0)),
		ldap.WithSearchResponseHandlers(
			ldap.MetricsResponseHandler[*ldap.SearchRequest, *ldap.SearchResult]{Operation: "search", Metrics: factory.Metrics()},
		),
	)

	for range 3 {
		_, err := search.Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
		require.NoError(t, err)
	}

	expected := `
# HELP dirclient_responses_total Successful responses, by operation and result code.
# TYPE dirclient_responses_total counter
dirclient_responses_total{operation="search",result_code="0"} 1
dirclient_responses_total{operation="search",result_code="cached"} 2
# HELP dirclient_search_cache_lookups_total Search cache lookups, by result.
# TYPE dirclient_search_cache_lookups_total counter
dirclient_search_cache_lookups_total{result="hit"} 2
dirclient_search_cache_lookups_total{result="miss"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dirclient_responses_total", "dirclient_search_cache_lookups_total"))
}

func TestMetrics_Pool(t *testing.T) {
	factory, reg := newMeteredFactory(t, ldaptest.NewProvider(), "ldap://a", withPoolSize(2, 0))
	pool, err := ldap.NewBlockingPool(t.Context(), factory)
	require.NoError(t, err)
	defer pool.Close()

	for range 3 {
		conn, err := pool.Checkout(t.Context())
		require.NoError(t, err)
		pool.Release(conn)
	}

	expected := `
# HELP dirclient_pool_checkouts_total Connections checked out of a pool.
# TYPE dirclient_pool_checkouts_total counter
dirclient_pool_checkouts_total 3
# HELP dirclient_pool_releases_total Connections released to a pool.
# TYPE dirclient_pool_releases_total counter
dirclient_pool_releases_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"dirclient_pool_checkouts_total", "dirclient_pool_releases_total"))
}

func TestMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := ldap.NewMetrics(reg)
	require.NoError(t, err)

	_, err = ldap.NewMetrics(reg)
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}

func TestMetrics_Nil(t *testing.T) {
	p := ldaptest.NewProvider(people(1)...)
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a"))
	assert.Nil(t, conn.Factory().Metrics())

	search := ldap.NewSearchOperation(conn,
		ldap.WithCache(ldap.NewSearchCache(0)),
		ldap.WithSearchResponseHandlers(ldap.MetricsResponseHandler[*ldap.SearchRequest, *ldap.SearchResult]{Operation: "search"}),
	)
	for range 2 {
		_, err := search.Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
		require.NoError(t, err)
	}
}
