package ldap

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
)

// NewSearchWorker creates a worker fanning search out over many requests.
func NewSearchWorker(search *SearchOperation, pool *WorkerPool) *OperationWorker[*SearchRequest, *SearchResult] {
	return NewOperationWorker("search", Executor[*SearchRequest, *SearchResult](search), pool)
}

// ParallelSearch runs one search per filter concurrently. Each search is req
// with its filter replaced by the formatted SearchFilter.
type ParallelSearch struct {
	options []SearchOption
	limit   int
}

// NewParallelSearch creates a parallel search. A positive limit bounds the
// number of searches in flight.
func NewParallelSearch(limit int, opts ...SearchOption) *ParallelSearch {
	return &ParallelSearch{options: opts, limit: limit}
}

// OnConnection runs every filter on one connection opened from factory. The
// connection is opened once and closed once the last search finishes. Failed
// searches are logged and left out of the responses.
func (p *ParallelSearch) OnConnection(ctx context.Context, factory *ConnectionFactory, req *SearchRequest, filters ...SearchFilter) ([]*Response[*SearchResult], error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	conn, err := factory.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	op := NewSearchOperation(conn, p.options...)
	slots := make([]*Response[*SearchResult], len(filters))

	var g errgroup.Group
	if p.limit > 0 {
		g.SetLimit(p.limit)
	}
	for i, filter := range filters {
		g.Go(func() error {
			resp, err := op.Execute(ctx, req.WithSearchFilter(filter))
			if err != nil {
				LogLDAPError(ctx, SubsystemLDAP, "parallel_search", err, map[string]any{
					"filter":   filter.Format(),
					"endpoint": conn.Endpoint(),
				})
				return nil
			}
			slots[i] = resp
			return nil
		})
	}
	_ = g.Wait()

	return compact(ctx, slots), nil
}

// FromPool runs every filter on its own connection checked out from pool.
// Each connection is released as soon as its search finishes, whatever the
// outcome. Failed searches are logged and left out of the responses. If a
// checkout fails, no further filters are started; the searches already
// running complete and release their connections before the checkout error
// is returned.
func (p *ParallelSearch) FromPool(ctx context.Context, pool ConnectionPool, req *SearchRequest, filters ...SearchFilter) ([]*Response[*SearchResult], error) {
	if req == nil {
		return nil, ErrNilRequest
	}

	slots := make([]*Response[*SearchResult], len(filters))
	var sem chan struct{}
	if p.limit > 0 {
		sem = make(chan struct{}, p.limit)
	}

	var wg sync.WaitGroup
	var checkoutErr error
	for i, filter := range filters {
		if sem != nil {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				checkoutErr = ctx.Err()
			}
			if checkoutErr != nil {
				break
			}
		}

		conn, err := pool.Checkout(ctx)
		if err != nil {
			if sem != nil {
				<-sem
			}
			LogPoolEvent(ctx, "checkout_failed", map[string]any{
				"filter":    filter.Format(),
				"submitted": i,
				"error":     err.Error(),
			})
			checkoutErr = err
			break
		}

		wg.Go(func() {
			defer func() {
				pool.Release(conn)
				if sem != nil {
					<-sem
				}
			}()
			resp, err := NewSearchOperation(conn, p.options...).Execute(ctx, req.WithSearchFilter(filter))
			if err != nil {
				LogLDAPError(ctx, SubsystemLDAP, "pooled_parallel_search", err, map[string]any{
					"filter":   filter.Format(),
					"endpoint": conn.Endpoint(),
				})
				return
			}
			slots[i] = resp
		})
	}
	wg.Wait()

	if checkoutErr != nil {
		return nil, checkoutErr
	}
	return compact(ctx, slots), nil
}

// AggregateSearch runs every filter against each factory concurrently, one
// connection per factory, and returns the combined responses. A factory
// whose connection cannot be opened is logged and skipped unless every
// factory fails.
func (p *ParallelSearch) AggregateSearch(ctx context.Context, factories []*ConnectionFactory, req *SearchRequest, filters ...SearchFilter) ([]*Response[*SearchResult], error) {
	perFactory := make([][]*Response[*SearchResult], len(factories))
	errs := make([]error, len(factories))

	var g errgroup.Group
	for i, factory := range factories {
		g.Go(func() error {
			perFactory[i], errs[i] = p.OnConnection(ctx, factory, req, filters...)
			if errs[i] != nil {
				LogLDAPError(ctx, SubsystemLDAP, "aggregate_search", errs[i], map[string]any{
					"ldap_url": factory.config.LDAPURL,
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	var all []*Response[*SearchResult]
	failed := 0
	for i := range factories {
		if errs[i] != nil {
			failed++
			continue
		}
		all = append(all, perFactory[i]...)
	}
	if len(factories) > 0 && failed == len(factories) {
		return nil, errors.Join(errs...)
	}
	return all, nil
}

func compact(ctx context.Context, slots []*Response[*SearchResult]) []*Response[*SearchResult] {
	responses := make([]*Response[*SearchResult], 0, len(slots))
	for _, resp := range slots {
		if resp != nil {
			responses = append(responses, resp)
		}
	}
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Parallel search completed", map[string]any{
		"filters":   len(slots),
		"responses": len(responses),
	})
	return responses
}
