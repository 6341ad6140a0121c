package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// ConnectionPool lends open connections. Every successful Checkout must be
// paired with exactly one Release.
type ConnectionPool interface {
	Checkout(ctx context.Context) (*Connection, error)
	Release(conn *Connection)
}

// PoolStats reports pool usage.
type PoolStats struct {
	Capacity int
	Active   int64 // Checked out
	Idle     int
	Created  int64
	Errors   int64
	Uptime   time.Duration
}

type pooledConnection struct {
	conn     *Connection
	lastUsed time.Time
}

// BlockingPool is a bounded ConnectionPool. Checkout blocks while the pool
// is at capacity. Idle connections older than MaxIdleTime are closed rather
// than lent.
type BlockingPool struct {
	factory     *ConnectionFactory
	capacity    int
	maxIdleTime time.Duration
	clock       clockwork.Clock

	// slots holds one token per live connection, idle or checked out.
	slots chan struct{}
	idle  chan *pooledConnection

	mu     sync.RWMutex
	closed bool
	active map[*Connection]struct{}

	janitor     clockwork.Ticker
	janitorStop chan struct{}
	janitorWg   sync.WaitGroup

	created   atomic.Int64
	errors    atomic.Int64
	startTime time.Time
}

// PoolOption configures a BlockingPool.
type PoolOption func(*BlockingPool)

// WithPoolClock replaces the clock used for idle expiry.
func WithPoolClock(clock clockwork.Clock) PoolOption {
	return func(p *BlockingPool) {
		p.clock = clock
	}
}

// NewBlockingPool creates a pool of connections opened by factory, sized by
// the factory's MaxConnections and MaxIdleTime settings. When MaxIdleTime is
// positive a background janitor closes expired idle connections.
func NewBlockingPool(ctx context.Context, factory *ConnectionFactory, opts ...PoolOption) (*BlockingPool, error) {
	if factory == nil {
		return nil, errors.New("factory cannot be nil")
	}
	config := factory.config
	if config.MaxConnections <= 0 {
		return nil, errors.New("MaxConnections must be positive")
	}

	p := &BlockingPool{
		factory:     factory,
		capacity:    config.MaxConnections,
		maxIdleTime: config.MaxIdleTime,
		clock:       clockwork.NewRealClock(),
		slots:       make(chan struct{}, config.MaxConnections),
		idle:        make(chan *pooledConnection, config.MaxConnections),
		active:      make(map[*Connection]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.startTime = p.clock.Now()

	if p.maxIdleTime > 0 {
		p.startJanitor(ctx)
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"capacity":      p.capacity,
		"max_idle_time": p.maxIdleTime.String(),
	})
	return p, nil
}

// Checkout returns an open connection, reusing an idle one when possible.
// It blocks until a connection is available or ctx is done.
func (p *BlockingPool) Checkout(ctx context.Context) (*Connection, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	select {
	case pc := <-p.idle:
		return p.reuseOrOpen(ctx, pc)
	default:
	}

	select {
	case pc := <-p.idle:
		return p.reuseOrOpen(ctx, pc)
	case p.slots <- struct{}{}:
		return p.open(ctx)
	case <-ctx.Done():
		LogPoolEvent(ctx, "pool_exhausted", map[string]any{
			"capacity": p.capacity,
			"error":    ctx.Err().Error(),
		})
		return nil, fmt.Errorf("%w: %w", ErrPoolExhausted, ctx.Err())
	}
}

// reuseOrOpen lends pc if it is still usable. Otherwise pc is closed and a
// new connection is opened in its slot.
func (p *BlockingPool) reuseOrOpen(ctx context.Context, pc *pooledConnection) (*Connection, error) {
	if p.healthy(pc) {
		p.lend(ctx, pc.conn)
		return pc.conn, nil
	}
	LogPoolEvent(ctx, "connection_expired", map[string]any{
		"endpoint": pc.conn.Endpoint(),
		"idle":     p.clock.Since(pc.lastUsed).String(),
	})
	pc.conn.Close()
	return p.open(ctx)
}

// open opens a new connection in a slot already held by the caller.
func (p *BlockingPool) open(ctx context.Context) (*Connection, error) {
	conn, err := p.factory.Open(ctx)
	if err != nil {
		<-p.slots
		p.errors.Add(1)
		LogPoolEvent(ctx, "checkout_failed", map[string]any{"error": err.Error()})
		return nil, err
	}
	p.created.Add(1)
	p.lend(ctx, conn)
	return conn, nil
}

func (p *BlockingPool) lend(ctx context.Context, conn *Connection) {
	p.mu.Lock()
	p.active[conn] = struct{}{}
	p.mu.Unlock()

	p.factory.metrics.poolCheckout()
	LogPoolEvent(ctx, "connection_acquired", map[string]any{"endpoint": conn.Endpoint()})
}

// Release returns conn to the pool. Connections that are closed, or
// released after the pool was closed, are closed and their slot freed.
// Releasing a connection that is not checked out has no effect.
func (p *BlockingPool) Release(conn *Connection) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.active[conn]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.active, conn)
	keep := !p.closed && conn.IsOpen()
	if keep {
		// A slot is held for every live connection, so idle never overflows.
		p.idle <- &pooledConnection{conn: conn, lastUsed: p.clock.Now()}
	}
	p.mu.Unlock()

	p.factory.metrics.poolRelease()
	LogPoolEvent(context.Background(), "connection_released", map[string]any{
		"endpoint": conn.Endpoint(),
		"kept":     keep,
	})

	if !keep {
		conn.Close()
		<-p.slots
	}
}

func (p *BlockingPool) healthy(pc *pooledConnection) bool {
	if !pc.conn.IsOpen() {
		return false
	}
	return p.maxIdleTime <= 0 || p.clock.Since(pc.lastUsed) < p.maxIdleTime
}

// Prune closes idle connections that have expired.
func (p *BlockingPool) Prune() int {
	pruned := 0
	for range len(p.idle) {
		var pc *pooledConnection
		select {
		case pc = <-p.idle:
		default:
			return pruned
		}
		if p.healthy(pc) && !p.isClosed() {
			p.idle <- pc
			continue
		}
		pc.conn.Close()
		<-p.slots
		pruned++
	}
	return pruned
}

func (p *BlockingPool) startJanitor(ctx context.Context) {
	p.janitor = p.clock.NewTicker(p.maxIdleTime)
	p.janitorStop = make(chan struct{})
	p.janitorWg.Go(func() {
		for {
			select {
			case <-p.janitor.Chan():
				if n := p.Prune(); n > 0 {
					LogPoolEvent(ctx, "connections_pruned", map[string]any{"count": n})
				}
			case <-p.janitorStop:
				return
			}
		}
	})
}

func (p *BlockingPool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close closes every idle connection. Connections still checked out are
// closed when released.
func (p *BlockingPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if p.janitor != nil {
		close(p.janitorStop)
		p.janitorWg.Wait()
		p.janitor.Stop()
	}

	var errs []error
	for {
		select {
		case pc := <-p.idle:
			if err := pc.conn.Close(); err != nil {
				errs = append(errs, err)
			}
			<-p.slots
		default:
			return errors.Join(errs...)
		}
	}
}

// Stats returns pool statistics.
func (p *BlockingPool) Stats() PoolStats {
	p.mu.RLock()
	active := int64(len(p.active))
	p.mu.RUnlock()

	return PoolStats{
		Capacity: p.capacity,
		Active:   active,
		Idle:     len(p.idle),
		Created:  p.created.Load(),
		Errors:   p.errors.Load(),
		Uptime:   p.clock.Since(p.startTime),
	}
}
