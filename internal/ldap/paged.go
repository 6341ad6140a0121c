package ldap

import (
	"context"
	"errors"
	"slices"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// DefaultPageSize is the page size used when a PagedResultsClient is
// created with size zero.
const DefaultPageSize = 1000

// PagedResultsClient performs simple paged results searches one page at a
// time, leaving the paging loop to the caller.
type PagedResultsClient struct {
	search *SearchOperation
	size   uint32
}

// NewPagedResultsClient creates a client requesting pages of size entries
// on conn.
func NewPagedResultsClient(conn *Connection, size uint32, opts ...SearchOption) *PagedResultsClient {
	if size == 0 {
		size = DefaultPageSize
	}
	opts = append(slices.Clone(opts), WithoutPagedContinuation())
	return &PagedResultsClient{search: NewSearchOperation(conn, opts...), size: size}
}

// Execute returns the first page of req.
func (c *PagedResultsClient) Execute(ctx context.Context, req *SearchRequest) (*Response[*SearchResult], error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	return c.search.Execute(ctx, c.pagedRequest(req, nil))
}

// ExecuteNext returns the page following prev.
func (c *PagedResultsClient) ExecuteNext(ctx context.Context, req *SearchRequest, prev *Response[*SearchResult]) (*Response[*SearchResult], error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if !c.HasMore(prev) {
		return nil, errors.New("previous response has no paged results cookie")
	}
	return c.search.Execute(ctx, c.pagedRequest(req, pagedCookie(prev.Controls())))
}

// HasMore reports whether the server has more pages after resp.
func (c *PagedResultsClient) HasMore(resp *Response[*SearchResult]) bool {
	return resp != nil && SearchAgain(resp.Controls())
}

// ExecuteToCompletion requests every page of req and merges them into one
// result. The returned response carries the metadata of the last page.
func (c *PagedResultsClient) ExecuteToCompletion(ctx context.Context, req *SearchRequest) (*Response[*SearchResult], error) {
	resp, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	result := NewSearchResult(req.SortBehavior)
	result.Merge(resp.Result())
	pages := 1
	for c.HasMore(resp) {
		if resp, err = c.ExecuteNext(ctx, req, resp); err != nil {
			return nil, err
		}
		result.Merge(resp.Result())
		pages++
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Paged search completed", map[string]any{
		"base_dn":   req.BaseDN,
		"filter":    req.Filter,
		"pages":     pages,
		"page_size": c.size,
		"entries":   result.Size(),
	})
	return withResult(resp, result), nil
}

// pagedRequest returns a copy of req whose paged results control carries
// cookie, adding the control when req has none.
func (c *PagedResultsClient) pagedRequest(req *SearchRequest, cookie []byte) *SearchRequest {
	if next, ok := req.withPagedCookie(cookie); ok {
		return next
	}
	paged := req.Clone()
	paged.Controls = append(paged.Controls, &PagedResultsControl{Size: c.size, Cookie: cookie})
	return paged
}
