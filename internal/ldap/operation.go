package ldap

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/jonboulle/clockwork"
)

// RetryPolicy bounds the re-execution of operations that fail with an
// *OperationError.
type RetryPolicy struct {
	MaxRetries int           // -1 retries forever
	Wait       time.Duration // Base delay before reconnecting
	Backoff    int           // Multiplier applied from the second retry onward
}

// ShouldRetry reports whether the failed attempt with the given zero-based
// index may be retried.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return p.MaxRetries == -1 || attempt < p.MaxRetries
}

// Delay returns the sleep following the failed attempt with the given
// zero-based index: Wait for the first, Wait*Backoff*attempt afterwards
// when Backoff is positive.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Wait <= 0 {
		return 0
	}
	if p.Backoff > 0 && attempt > 0 {
		return p.Wait * time.Duration(p.Backoff) * time.Duration(attempt)
	}
	return p.Wait
}

// OperationResponseHandler observes successful responses. Handlers run in
// order and cannot change the outcome of the operation.
type OperationResponseHandler[Q Request, S any] interface {
	Handle(ctx context.Context, conn *Connection, req Q, resp *Response[S])
}

// OperationResponseHandlerFunc adapts a function to OperationResponseHandler.
type OperationResponseHandlerFunc[Q Request, S any] func(ctx context.Context, conn *Connection, req Q, resp *Response[S])

func (f OperationResponseHandlerFunc[Q, S]) Handle(ctx context.Context, conn *Connection, req Q, resp *Response[S]) {
	f(ctx, conn, req, resp)
}

// invokeFunc performs one attempt of an operation against a session.
type invokeFunc[Q Request, S any] func(ctx context.Context, session ProviderConnection, req Q) (*Response[S], error)

// Operation executes one kind of request on a connection with retry,
// backoff and reconnect.
type Operation[Q Request, S any] struct {
	conn     *Connection
	name     string
	invoke   invokeFunc[Q, S]
	handlers []OperationResponseHandler[Q, S]
	clock    clockwork.Clock
}

func newOperation[Q Request, S any](conn *Connection, name string, invoke invokeFunc[Q, S]) *Operation[Q, S] {
	return &Operation[Q, S]{
		conn:   conn,
		name:   name,
		invoke: invoke,
		clock:  clockwork.NewRealClock(),
	}
}

// NewBindOperation creates a bind operation.
func NewBindOperation(conn *Connection) *Operation[*BindRequest, Void] {
	return newOperation(conn, "bind", func(ctx context.Context, s ProviderConnection, req *BindRequest) (*Response[Void], error) {
		return s.Bind(ctx, req)
	})
}

// NewAddOperation creates an add operation.
func NewAddOperation(conn *Connection) *Operation[*AddRequest, Void] {
	return newOperation(conn, "add", func(ctx context.Context, s ProviderConnection, req *AddRequest) (*Response[Void], error) {
		return s.Add(ctx, req)
	})
}

// NewCompareOperation creates a compare operation.
func NewCompareOperation(conn *Connection) *Operation[*CompareRequest, bool] {
	return newOperation(conn, "compare", func(ctx context.Context, s ProviderConnection, req *CompareRequest) (*Response[bool], error) {
		return s.Compare(ctx, req)
	})
}

// NewDeleteOperation creates a delete operation.
func NewDeleteOperation(conn *Connection) *Operation[*DeleteRequest, Void] {
	return newOperation(conn, "delete", func(ctx context.Context, s ProviderConnection, req *DeleteRequest) (*Response[Void], error) {
		return s.Delete(ctx, req)
	})
}

// NewModifyOperation creates a modify operation.
func NewModifyOperation(conn *Connection) *Operation[*ModifyRequest, Void] {
	return newOperation(conn, "modify", func(ctx context.Context, s ProviderConnection, req *ModifyRequest) (*Response[Void], error) {
		return s.Modify(ctx, req)
	})
}

// NewModifyDNOperation creates a modify DN operation.
func NewModifyDNOperation(conn *Connection) *Operation[*ModifyDNRequest, Void] {
	return newOperation(conn, "modifyDN", func(ctx context.Context, s ProviderConnection, req *ModifyDNRequest) (*Response[Void], error) {
		return s.ModifyDN(ctx, req)
	})
}

// Name returns the operation name used in logs and metrics.
func (o *Operation[Q, S]) Name() string { return o.name }

// Connection returns the connection the operation executes on.
func (o *Operation[Q, S]) Connection() *Connection { return o.conn }

// AddResponseHandlers appends response handlers.
func (o *Operation[Q, S]) AddResponseHandlers(handlers ...OperationResponseHandler[Q, S]) *Operation[Q, S] {
	o.handlers = append(o.handlers, handlers...)
	return o
}

// SetClock replaces the clock used for retry waits.
func (o *Operation[Q, S]) SetClock(clock clockwork.Clock) *Operation[Q, S] {
	o.clock = clock
	return o
}

// Execute runs req. An *OperationError is retried according to the
// connection's retry policy: the session is closed, the engine waits, and a
// new session is opened. Any other error, including a *ConnectionError from
// the reconnect, is returned immediately. When retries are exhausted the
// last *OperationError is returned unchanged.
func (o *Operation[Q, S]) Execute(ctx context.Context, req Q) (*Response[S], error) {
	if isNilRequest(req) {
		return nil, ErrNilRequest
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s request: %w", o.name, err)
	}

	session, generation, err := o.conn.currentSession()
	if err != nil {
		return nil, err
	}

	policy := o.conn.RetryPolicy()
	start := o.clock.Now()
	for attempt := 0; ; attempt++ {
		tflog.SubsystemTrace(ctx, SubsystemLDAP, "Executing operation", map[string]any{
			"operation": o.name,
			"attempt":   attempt,
			"endpoint":  o.conn.Endpoint(),
		})

		resp, err := o.invoke(ctx, session, req)
		if err == nil {
			o.conn.factory.metrics.observeOperation(o.name, o.clock.Since(start))
			o.handle(ctx, req, resp)
			return resp, nil
		}

		var opErr *OperationError
		if !errors.As(err, &opErr) {
			return nil, err
		}

		if !policy.ShouldRetry(attempt) {
			LogLDAPError(ctx, SubsystemLDAP, o.name, err, map[string]any{
				"attempts": attempt + 1,
				"retries":  policy.MaxRetries,
			})
			return nil, err
		}

		delay := policy.Delay(attempt)
		tflog.SubsystemWarn(ctx, SubsystemLDAP, "Retrying operation", map[string]any{
			"operation":   o.name,
			"attempt":     attempt,
			"delay":       delay.String(),
			"result_code": int(opErr.ResultCode),
			"error":       err.Error(),
		})
		o.conn.factory.metrics.retried(o.name)

		o.conn.closeSession(ctx, generation)
		o.wait(ctx, delay)
		session, generation, err = o.conn.reconnect(ctx)
		if err != nil {
			return nil, err
		}
	}
}

// handle runs the response handlers in order.
func (o *Operation[Q, S]) handle(ctx context.Context, req Q, resp *Response[S]) {
	for _, h := range o.handlers {
		h.Handle(ctx, o.conn, req, resp)
	}
}

// wait sleeps for delay. Cancellation of ctx ends the wait early without
// error; the following reconnect observes the cancelled context.
func (o *Operation[Q, S]) wait(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := o.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.Chan():
	case <-ctx.Done():
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Retry wait interrupted", map[string]any{
			"operation": o.name,
		})
	}
}

func isNilRequest(req Request) bool {
	if req == nil {
		return true
	}
	v := reflect.ValueOf(req)
	return v.Kind() == reflect.Pointer && v.IsNil()
}
