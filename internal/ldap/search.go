package ldap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/jonboulle/clockwork"
)

// ErrReferralNotSupported is returned by searches that request referral
// following.
var ErrReferralNotSupported = errors.New("following referrals is not supported")

// SearchOperation executes searches on a connection. Search items are
// routed through the request's handler chains into a SearchResult. Results
// may be served from and stored in a Cache; retries happen below the cache.
type SearchOperation struct {
	op           *Operation[*SearchRequest, *SearchResult]
	cache        Cache
	continuation bool
}

// SearchOption configures a SearchOperation.
type SearchOption func(*SearchOperation)

// WithCache serves repeated identical searches from cache.
func WithCache(cache Cache) SearchOption {
	return func(s *SearchOperation) {
		s.cache = cache
	}
}

// WithoutPagedContinuation returns each page of a paged search to the
// caller instead of transparently requesting the following pages.
func WithoutPagedContinuation() SearchOption {
	return func(s *SearchOperation) {
		s.continuation = false
	}
}

// WithSearchResponseHandlers adds handlers run on every successful search.
func WithSearchResponseHandlers(handlers ...OperationResponseHandler[*SearchRequest, *SearchResult]) SearchOption {
	return func(s *SearchOperation) {
		s.op.AddResponseHandlers(handlers...)
	}
}

// WithSearchClock replaces the clock used for retry waits.
func WithSearchClock(clock clockwork.Clock) SearchOption {
	return func(s *SearchOperation) {
		s.op.SetClock(clock)
	}
}

// NewSearchOperation creates a search operation on conn.
func NewSearchOperation(conn *Connection, opts ...SearchOption) *SearchOperation {
	s := &SearchOperation{continuation: true}
	s.op = newOperation(conn, "search", s.invoke)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connection returns the connection the search executes on.
func (s *SearchOperation) Connection() *Connection {
	return s.op.Connection()
}

// Execute runs req. A cache hit returns a response without a result code;
// response handlers run for cache hits as well.
func (s *SearchOperation) Execute(ctx context.Context, req *SearchRequest) (*Response[*SearchResult], error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if s.cache == nil {
		return s.op.Execute(ctx, req)
	}

	metrics := s.op.conn.factory.metrics
	if cached, ok := s.cache.Get(req); ok {
		metrics.cacheLookup(true)
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Search cache hit", map[string]any{
			"base_dn": req.BaseDN,
			"filter":  req.Filter,
			"entries": cached.Size(),
		})
		resp := newCachedResponse(cached)
		s.op.handle(ctx, req, resp)
		return resp, nil
	}
	metrics.cacheLookup(false)
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Search cache miss", map[string]any{
		"base_dn": req.BaseDN,
		"filter":  req.Filter,
	})

	executeAndStore := func() (any, error) {
		resp, err := s.op.Execute(ctx, req)
		if err != nil {
			return nil, err
		}
		s.cache.Put(req, resp.Result())
		return resp, nil
	}

	sf, ok := s.cache.(singleFlighter)
	if !ok {
		resp, err := executeAndStore()
		if err != nil {
			return nil, err
		}
		return resp.(*Response[*SearchResult]), nil
	}

	v, err, shared := sf.do(req.CacheKey(), executeAndStore)
	if err != nil {
		return nil, err
	}
	resp := v.(*Response[*SearchResult])
	if shared {
		resp = withResult(resp, resp.Result().Clone())
	}
	return resp, nil
}

// invoke performs one search attempt, following paged results cookies
// until the server stops returning one.
func (s *SearchOperation) invoke(ctx context.Context, session ProviderConnection, req *SearchRequest) (*Response[*SearchResult], error) {
	result := NewSearchResult(req.SortBehavior)
	current := req
	pages := 0
	for {
		pages++
		it, err := session.Search(ctx, current)
		if err != nil {
			return nil, err
		}

		aborted, err := s.drain(ctx, req, it, result)
		if err != nil {
			it.Close()
			var opErr *OperationError
			if errors.As(err, &opErr) && req.ignoresResultCode(opErr.ResultCode) {
				tflog.SubsystemDebug(ctx, SubsystemLDAP, "Ignoring search result code", map[string]any{
					"result_code": int(opErr.ResultCode),
					"entries":     result.Size(),
				})
				return NewResponse(result, ResponseMeta{
					ResultCode:   opErr.ResultCode,
					Message:      opErr.Message,
					MatchedDN:    opErr.MatchedDN,
					Controls:     opErr.Controls,
					ReferralURLs: opErr.ReferralURLs,
				}), nil
			}
			return nil, err
		}

		final := it.Response()
		it.Close()
		if final == nil {
			final = NewResponse(Void{}, ResponseMeta{ResultCode: ResultSuccess})
		}

		if !aborted && s.continuation && SearchAgain(final.Controls()) {
			if next, ok := current.withPagedCookie(pagedCookie(final.Controls())); ok {
				tflog.SubsystemTrace(ctx, SubsystemLDAP, "Continuing paged search", map[string]any{
					"page":    pages,
					"entries": result.Size(),
				})
				current = next
				continue
			}
		}

		return withResult(final, result), nil
	}
}

// drain consumes the iterator, reporting whether a handler aborted the search.
func (s *SearchOperation) drain(ctx context.Context, req *SearchRequest, it SearchIterator, result *SearchResult) (bool, error) {
	for it.Next(ctx) {
		item := it.Item()
		switch {
		case item.Entry != nil:
			entry, abort, err := handleEntry(ctx, req, item.Entry)
			if err != nil {
				return false, err
			}
			if entry != nil {
				result.AddEntry(entry)
			}
			if abort {
				return true, nil
			}

		case item.Reference != nil:
			switch req.ReferralBehavior {
			case ReferralIgnore:
				continue
			case ReferralFollow:
				return false, fmt.Errorf("search reference %v: %w", item.Reference.URLs, ErrReferralNotSupported)
			case ReferralThrow:
				return false, &OperationError{
					Operation:    "search",
					ResultCode:   ResultReferral,
					Message:      "search returned a continuation reference",
					ReferralURLs: item.Reference.URLs,
				}
			}
			ref, abort, err := handleReference(ctx, req, item.Reference)
			if err != nil {
				return false, err
			}
			if ref != nil {
				result.AddReference(ref)
			}
			if abort {
				return true, nil
			}

		case item.Intermediate != nil:
			_, abort, err := handleIntermediate(ctx, req, item.Intermediate)
			if err != nil {
				return false, err
			}
			if abort {
				return true, nil
			}
		}
	}
	return false, it.Err()
}

// handleEntry runs the entry handler chain. A handler returning a nil
// result drops the entry and ends the chain.
func handleEntry(ctx context.Context, req *SearchRequest, entry *Entry) (*Entry, bool, error) {
	abort := false
	for _, h := range req.EntryHandlers {
		res, err := h.HandleEntry(ctx, req, entry)
		if err != nil {
			return nil, false, fmt.Errorf("entry handler %T: %w", h, err)
		}
		abort = abort || res.Abort
		entry = res.Result
		if entry == nil {
			break
		}
	}
	return entry, abort, nil
}

func handleReference(ctx context.Context, req *SearchRequest, ref *SearchReference) (*SearchReference, bool, error) {
	abort := false
	for _, h := range req.ReferenceHandlers {
		res, err := h.HandleReference(ctx, req, ref)
		if err != nil {
			return nil, false, fmt.Errorf("reference handler %T: %w", h, err)
		}
		abort = abort || res.Abort
		ref = res.Result
		if ref == nil {
			break
		}
	}
	return ref, abort, nil
}

func handleIntermediate(ctx context.Context, req *SearchRequest, resp *IntermediateResponse) (*IntermediateResponse, bool, error) {
	abort := false
	for _, h := range req.IntermediateHandlers {
		res, err := h.HandleIntermediate(ctx, req, resp)
		if err != nil {
			return nil, false, fmt.Errorf("intermediate response handler %T: %w", h, err)
		}
		abort = abort || res.Abort
		resp = res.Result
		if resp == nil {
			break
		}
	}
	return resp, abort, nil
}

// Search opens a connection, executes req and closes the connection.
func (f *ConnectionFactory) Search(ctx context.Context, req *SearchRequest, opts ...SearchOption) (*Response[*SearchResult], error) {
	conn, err := f.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return NewSearchOperation(conn, opts...).Execute(ctx, req)
}
