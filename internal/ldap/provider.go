package ldap

import "context"

// Provider performs the protocol exchange for the runtime. Implementations
// wrap one underlying network library; the runtime never inspects which.
type Provider interface {
	// Open dials endpoint and returns an unauthenticated session. Failures
	// are connection failures and are never retried by the engine.
	Open(ctx context.Context, endpoint string, config *ConnectionConfig) (ProviderConnection, error)
}

// ProviderConnection is one provider-level session to one endpoint.
// Operation failures are returned as *OperationError. Sessions shared by
// workers or by ParallelSearch.OnConnection receive concurrent calls.
type ProviderConnection interface {
	Bind(ctx context.Context, req *BindRequest) (*Response[Void], error)
	Add(ctx context.Context, req *AddRequest) (*Response[Void], error)
	Compare(ctx context.Context, req *CompareRequest) (*Response[bool], error)
	Delete(ctx context.Context, req *DeleteRequest) (*Response[Void], error)
	Modify(ctx context.Context, req *ModifyRequest) (*Response[Void], error)
	ModifyDN(ctx context.Context, req *ModifyDNRequest) (*Response[Void], error)
	Search(ctx context.Context, req *SearchRequest) (SearchIterator, error)
	Close() error
}

// SearchItem is one element of a search: exactly one field is set.
type SearchItem struct {
	Entry        *Entry
	Reference    *SearchReference
	Intermediate *IntermediateResponse
}

// SearchIterator is a lazy, forward-only sequence of search items.
//
//	for it.Next(ctx) {
//		item := it.Item()
//	}
//	if err := it.Err(); err != nil { ... }
//	resp := it.Response()
type SearchIterator interface {
	// Next advances to the next item. It returns false when the sequence
	// is exhausted or an error occurred.
	Next(ctx context.Context) bool
	Item() SearchItem
	// Err returns the failure that stopped iteration, if any.
	Err() error
	// Response returns the final search result. It is valid once Next has
	// returned false and Err is nil.
	Response() *Response[Void]
	// Close abandons the search if it is still running.
	Close() error
}

// SliceIterator is a SearchIterator over buffered items.
type SliceIterator struct {
	items    []SearchItem
	pos      int
	done     bool
	response *Response[Void]
	err      error
}

// NewSliceIterator creates an iterator yielding items followed by response.
// A non-nil err is reported after the items are consumed.
func NewSliceIterator(items []SearchItem, response *Response[Void], err error) *SliceIterator {
	return &SliceIterator{items: items, pos: -1, response: response, err: err}
}

func (it *SliceIterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		if it.err == nil {
			it.err = err
		}
		it.done = true
		return false
	}
	if it.pos+1 >= len(it.items) {
		it.pos = len(it.items)
		it.done = true
		return false
	}
	it.pos++
	return true
}

func (it *SliceIterator) Item() SearchItem {
	if it.pos < 0 || it.pos >= len(it.items) {
		return SearchItem{}
	}
	return it.items[it.pos]
}

func (it *SliceIterator) Err() error {
	if !it.done {
		return nil
	}
	return it.err
}

func (it *SliceIterator) Response() *Response[Void] { return it.response }

func (it *SliceIterator) Close() error { return nil }
