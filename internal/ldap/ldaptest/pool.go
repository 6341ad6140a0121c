package ldaptest

import (
	"context"
	"errors"
	"sync"

	"github.com/isometry/dirclient/internal/ldap"
)

// ErrCheckoutRefused is returned by Pool.Checkout once FailAfter checkouts
// have succeeded.
var ErrCheckoutRefused = errors.New("checkout refused")

// Pool is an unbounded ldap.ConnectionPool that opens a new connection for
// every checkout and closes it on release. It records every checkout and
// release so tests can assert that no connection leaks.
type Pool struct {
	Factory *ldap.ConnectionFactory
	// FailAfter, when positive, makes every checkout after the first
	// FailAfter fail with ErrCheckoutRefused.
	FailAfter int

	mu        sync.Mutex
	checkouts []*ldap.Connection
	releases  map[*ldap.Connection]int
}

// NewPool creates a pool opening connections from factory.
func NewPool(factory *ldap.ConnectionFactory) *Pool {
	return &Pool{Factory: factory, releases: make(map[*ldap.Connection]int)}
}

// Checkout implements ldap.ConnectionPool.
func (p *Pool) Checkout(ctx context.Context) (*ldap.Connection, error) {
	p.mu.Lock()
	refused := p.FailAfter > 0 && len(p.checkouts) >= p.FailAfter
	p.mu.Unlock()
	if refused {
		return nil, ErrCheckoutRefused
	}

	conn, err := p.Factory.Open(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, conn)
	return conn, nil
}

// Release implements ldap.ConnectionPool.
func (p *Pool) Release(conn *ldap.Connection) {
	p.mu.Lock()
	p.releases[conn]++
	p.mu.Unlock()
	conn.Close()
}

// Checkouts returns the number of successful checkouts.
func (p *Pool) Checkouts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.checkouts)
}

// Releases returns how often each checked out connection was released, in
// checkout order.
func (p *Pool) Releases() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make([]int, len(p.checkouts))
	for i, c := range p.checkouts {
		counts[i] = p.releases[c]
	}
	return counts
}
