package ldap

import (
	"context"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Executor executes one kind of request. *Operation and *SearchOperation
// implement it.
type Executor[Q Request, S any] interface {
	Execute(ctx context.Context, req Q) (*Response[S], error)
}

// WorkerPool runs submitted tasks on goroutines. A pool with a positive
// limit runs at most that many tasks at once; otherwise every task runs
// immediately.
type WorkerPool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewWorkerPool creates a pool running at most limit tasks concurrently.
// A limit of zero or less is unbounded.
func NewWorkerPool(limit int) *WorkerPool {
	p := &WorkerPool{}
	if limit > 0 {
		p.sem = make(chan struct{}, limit)
	}
	return p
}

// Go runs fn on a new goroutine once a worker is free. A task still waiting
// for a worker when ctx is done is not run; onSkip is called instead.
func (p *WorkerPool) Go(ctx context.Context, fn func(), onSkip func(error)) {
	p.wg.Go(func() {
		if p.sem != nil {
			select {
			case p.sem <- struct{}{}:
				defer func() { <-p.sem }()
			case <-ctx.Done():
				onSkip(ctx.Err())
				return
			}
		}
		fn()
	})
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Future is the eventual outcome of a submitted request.
type Future[S any] struct {
	done chan struct{}
	resp *Response[S]
	err  error
}

func newFuture[S any]() *Future[S] {
	return &Future[S]{done: make(chan struct{})}
}

func (f *Future[S]) complete(resp *Response[S], err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Done is closed once the outcome is available.
func (f *Future[S]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is available or ctx is done.
func (f *Future[S]) Wait(ctx context.Context) (*Response[S], error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OperationWorker fans one operation out over many requests.
type OperationWorker[Q Request, S any] struct {
	name     string
	executor Executor[Q, S]
	pool     *WorkerPool
}

// NewOperationWorker creates a worker executing requests with executor. A
// nil pool is replaced by an unbounded one. Requests submitted together
// share the executor's connection, so its provider session must tolerate
// concurrent operations.
func NewOperationWorker[Q Request, S any](name string, executor Executor[Q, S], pool *WorkerPool) *OperationWorker[Q, S] {
	if pool == nil {
		pool = NewWorkerPool(0)
	}
	return &OperationWorker[Q, S]{name: name, executor: executor, pool: pool}
}

// Submit executes req asynchronously.
func (w *OperationWorker[Q, S]) Submit(ctx context.Context, req Q) *Future[S] {
	f := newFuture[S]()
	w.pool.Go(ctx, func() {
		f.complete(w.executor.Execute(ctx, req))
	}, func(err error) {
		f.complete(nil, err)
	})
	return f
}

// SubmitAll executes every request asynchronously. The futures are in
// request order; execution order is unspecified.
func (w *OperationWorker[Q, S]) SubmitAll(ctx context.Context, reqs ...Q) []*Future[S] {
	futures := make([]*Future[S], len(reqs))
	for i, req := range reqs {
		futures[i] = w.Submit(ctx, req)
	}
	return futures
}

// ExecuteToCompletion executes every request and waits for all of them.
// Failed requests are logged and left out of the returned responses, so
// the result may be shorter than reqs and positions do not correspond.
func (w *OperationWorker[Q, S]) ExecuteToCompletion(ctx context.Context, reqs ...Q) []*Response[S] {
	futures := w.SubmitAll(ctx, reqs...)
	responses := make([]*Response[S], 0, len(futures))
	for i, f := range futures {
		<-f.Done()
		if f.err != nil {
			LogLDAPError(ctx, SubsystemLDAP, w.name, f.err, map[string]any{
				"batch_index": i,
				"batch_size":  len(reqs),
			})
			continue
		}
		responses = append(responses, f.resp)
	}
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Batch completed", map[string]any{
		"operation": w.name,
		"requests":  len(reqs),
		"responses": len(responses),
	})
	return responses
}
