package ldap

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dirclient"

// Metrics collects runtime statistics. A nil *Metrics records nothing.
type Metrics struct {
	connectionsOpened *prometheus.CounterVec
	connectionsFailed *prometheus.CounterVec
	retries           *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	responses         *prometheus.CounterVec
	poolCheckouts     prometheus.Counter
	poolReleases      prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		connectionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_opened_total",
			Help:      "Connections opened, by endpoint.",
		}, []string{"endpoint"}),
		connectionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connection_attempts_failed_total",
			Help:      "Failed connection attempts, by endpoint.",
		}, []string{"endpoint"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operation_retries_total",
			Help:      "Operation retries, by operation.",
		}, []string{"operation"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "search_cache_lookups_total",
			Help:      "Search cache lookups, by result.",
		}, []string{"result"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_total",
			Help:      "Successful responses, by operation and result code.",
		}, []string{"operation", "result_code"}),
		poolCheckouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pool_checkouts_total",
			Help:      "Connections checked out of a pool.",
		}),
		poolReleases: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pool_releases_total",
			Help:      "Connections released to a pool.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of successful operations, by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	for _, c := range []prometheus.Collector{
		m.connectionsOpened, m.connectionsFailed, m.retries, m.cacheLookups, m.responses,
		m.poolCheckouts, m.poolReleases, m.operationDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) connectionOpened(endpoint string) {
	if m != nil {
		m.connectionsOpened.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) connectionFailed(endpoint string) {
	if m != nil {
		m.connectionsFailed.WithLabelValues(endpoint).Inc()
	}
}

func (m *Metrics) retried(operation string) {
	if m != nil {
		m.retries.WithLabelValues(operation).Inc()
	}
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

func (m *Metrics) response(operation string, hasResultCode bool, code ResultCode) {
	if m == nil {
		return
	}
	label := "cached"
	if hasResultCode {
		label = strconv.Itoa(int(code))
	}
	m.responses.WithLabelValues(operation, label).Inc()
}

func (m *Metrics) poolCheckout() {
	if m != nil {
		m.poolCheckouts.Inc()
	}
}

func (m *Metrics) poolRelease() {
	if m != nil {
		m.poolReleases.Inc()
	}
}

func (m *Metrics) observeOperation(operation string, d time.Duration) {
	if m != nil {
		m.operationDuration.WithLabelValues(operation).Observe(d.Seconds())
	}
}
