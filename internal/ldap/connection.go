package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// ConnectionFactory opens connections by trying the configured endpoints in
// the order chosen by the connection strategy.
type ConnectionFactory struct {
	provider Provider
	config   *ConnectionConfig
	metrics  *Metrics

	// count is the number of connections opened by this factory. It drives
	// round robin endpoint selection and resets to zero instead of wrapping.
	count atomic.Int64
}

// FactoryOption configures a ConnectionFactory.
type FactoryOption func(*ConnectionFactory)

// WithFactoryMetrics records connection statistics in m.
func WithFactoryMetrics(m *Metrics) FactoryOption {
	return func(f *ConnectionFactory) {
		f.metrics = m
	}
}

// NewConnectionFactory creates a factory for config. The configuration is
// copied; later changes to config are not observed.
func NewConnectionFactory(provider Provider, config *ConnectionConfig, opts ...FactoryOption) (*ConnectionFactory, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	f := &ConnectionFactory{
		provider: provider,
		config:   config.Clone(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config returns a copy of the factory configuration.
func (f *ConnectionFactory) Config() *ConnectionConfig {
	return f.config.Clone()
}

// Metrics returns the metrics recorder, which may be nil.
func (f *ConnectionFactory) Metrics() *Metrics {
	return f.metrics
}

// Count returns the number of connections opened by this factory.
func (f *ConnectionFactory) Count() int64 {
	return f.count.Load()
}

// incrementCount increments the connection count, resetting to zero if the
// increment would overflow.
func (f *ConnectionFactory) incrementCount() {
	for {
		current := f.count.Load()
		next := current + 1
		if next < 0 {
			next = 0
		}
		if f.count.CompareAndSwap(current, next) {
			return
		}
	}
}

// NewConnection returns an unopened connection. bind, when non-nil,
// replaces the configured bind on every open of the connection.
func (f *ConnectionFactory) NewConnection(bind *BindRequest) *Connection {
	return &Connection{
		factory: f,
		bind:    bind,
		retry:   f.config.RetryPolicy(),
	}
}

// Open returns an open connection bound with the configured credentials.
func (f *ConnectionFactory) Open(ctx context.Context) (*Connection, error) {
	return f.OpenWithBind(ctx, nil)
}

// OpenWithBind returns an open connection bound with bind, or with the
// configured credentials when bind is nil.
func (f *ConnectionFactory) OpenWithBind(ctx context.Context, bind *BindRequest) (*Connection, error) {
	conn := f.NewConnection(bind)
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// openSession opens a provider session against the first endpoint that
// succeeds. When every endpoint fails the returned *ConnectionError wraps
// the failure of the last one.
func (f *ConnectionFactory) openSession(ctx context.Context, bind *BindRequest) (ProviderConnection, string, error) {
	endpoints := f.config.Strategy.Resolve(f.config.LDAPURL, f.count.Load())
	if len(endpoints) == 0 {
		return nil, "", NewConnectionError("", "no LDAP endpoints configured", nil)
	}

	var lastErr error
	var lastEndpoint string
	for _, endpoint := range endpoints {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		LogConnectionEvent(ctx, "connection_attempt", map[string]any{
			"endpoint": endpoint,
			"strategy": f.config.Strategy.String(),
		})

		start := time.Now()
		session, err := f.initialize(ctx, endpoint, bind)
		if err != nil {
			lastErr = err
			lastEndpoint = endpoint
			f.metrics.connectionFailed(endpoint)
			LogConnectionEvent(ctx, "endpoint_failed", map[string]any{
				"endpoint": endpoint,
				"error":    err.Error(),
			})
			continue
		}

		f.incrementCount()
		f.metrics.connectionOpened(endpoint)
		LogConnectionEvent(ctx, "connection_established", map[string]any{
			"endpoint":    endpoint,
			"duration_ms": time.Since(start).Milliseconds(),
			"count":       f.count.Load(),
		})
		return session, endpoint, nil
	}

	LogConnectionEvent(ctx, "all_endpoints_failed", map[string]any{
		"endpoints": endpoints,
	})
	return nil, "", NewConnectionError(lastEndpoint, "failed to open connection", lastErr)
}

// initialize opens and binds one session.
func (f *ConnectionFactory) initialize(ctx context.Context, endpoint string, bind *BindRequest) (ProviderConnection, error) {
	session, err := f.provider.Open(ctx, endpoint, f.config)
	if err != nil {
		return nil, err
	}

	if bind == nil {
		bind = f.config.BindRequest()
	}
	if bind == nil {
		return session, nil
	}

	if err := bind.Validate(); err != nil {
		session.Close()
		return nil, fmt.Errorf("invalid bind request: %w", err)
	}
	if _, err := session.Bind(ctx, bind); err != nil {
		session.Close()
		LogConnectionEvent(ctx, "authentication_failed", SanitizeFields(map[string]any{
			"endpoint": endpoint,
			"bind_dn":  bind.DN,
			"sasl":     bind.SASLMechanism,
			"error":    err.Error(),
		}))
		return nil, fmt.Errorf("bind failed: %w", err)
	}
	return session, nil
}

type connectionState int

const (
	stateNew connectionState = iota
	stateOpen
	stateClosed
)

// Connection owns one provider session to one endpoint. Operations on a
// connection run sequentially unless the provider session supports
// concurrent use. Once closed a connection cannot be reopened.
type Connection struct {
	factory *ConnectionFactory
	bind    *BindRequest
	retry   RetryPolicy

	mu         sync.RWMutex
	state      connectionState
	session    ProviderConnection
	generation uint64
	endpoint   string
}

// Open opens the connection.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateOpen:
		return nil
	case stateClosed:
		return ErrConnectionClosed
	}

	if err := c.openLocked(ctx); err != nil {
		return err
	}
	c.state = stateOpen
	return nil
}

func (c *Connection) openLocked(ctx context.Context) error {
	session, endpoint, err := c.factory.openSession(ctx, c.bind)
	if err != nil {
		return err
	}
	c.session = session
	c.endpoint = endpoint
	c.generation++
	return nil
}

// Close closes the connection permanently.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	c.state = stateClosed
	return c.closeSessionLocked()
}

func (c *Connection) closeSessionLocked() error {
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// IsOpen reports whether the connection is open.
func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateOpen
}

// Endpoint returns the endpoint of the current session.
func (c *Connection) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoint
}

// RetryPolicy returns the retry settings captured when the connection was created.
func (c *Connection) RetryPolicy() RetryPolicy {
	return c.retry
}

// Factory returns the factory that created the connection.
func (c *Connection) Factory() *ConnectionFactory {
	return c.factory
}

// currentSession returns the open session and its generation.
func (c *Connection) currentSession() (ProviderConnection, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.state == stateClosed:
		return nil, 0, ErrConnectionClosed
	case c.state != stateOpen || c.session == nil:
		return nil, 0, ErrConnectionNotOpen
	}
	return c.session, c.generation, nil
}

// closeSession closes the session of the given generation. A session that
// was already replaced by a concurrent reconnect is left alone.
func (c *Connection) closeSession(ctx context.Context, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation || c.session == nil {
		return
	}
	if err := c.closeSessionLocked(); err != nil {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Error closing session", map[string]any{
			"endpoint": c.endpoint,
			"error":    err.Error(),
		})
	}
	LogConnectionEvent(ctx, "connection_closed", map[string]any{"endpoint": c.endpoint})
}

// reconnect opens a new session unless another operation already did.
func (c *Connection) reconnect(ctx context.Context) (ProviderConnection, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil, 0, ErrConnectionClosed
	}
	if c.session != nil {
		return c.session, c.generation, nil
	}

	LogConnectionEvent(ctx, "reconnect", map[string]any{"previous_endpoint": c.endpoint})
	if err := c.openLocked(ctx); err != nil {
		return nil, 0, err
	}
	return c.session, c.generation, nil
}
