package goldap

import (
	"context"
	"sync"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// searchIterator adapts a go-ldap asynchronous search response. go-ldap
// delivers the controls of the final result and of intermediate responses
// as items carrying only controls; the last such item is held back until
// the search ends so that it can become the final response.
type searchIterator struct {
	ctx      context.Context
	cancel   context.CancelFunc
	resp     ldap.Response
	req      *ldapclient.SearchRequest
	controls *ControlProcessor

	queue    []ldapclient.SearchItem
	pending  []ldap.Control
	item     ldapclient.SearchItem
	response *ldapclient.Response[ldapclient.Void]
	err      error
	done     bool

	closeOnce sync.Once
}

func newSearchIterator(ctx context.Context, cancel context.CancelFunc, resp ldap.Response, req *ldapclient.SearchRequest, controls *ControlProcessor) *searchIterator {
	return &searchIterator{
		ctx:      ctx,
		cancel:   cancel,
		resp:     resp,
		req:      req,
		controls: controls,
	}
}

func (it *searchIterator) Next(ctx context.Context) bool {
	for {
		if len(it.queue) > 0 {
			it.item, it.queue = it.queue[0], it.queue[1:]
			return true
		}
		if it.done {
			it.item = ldapclient.SearchItem{}
			return false
		}
		if err := ctx.Err(); err != nil {
			it.finish(err)
			continue
		}
		if !it.resp.Next() {
			it.complete()
			continue
		}
		it.receive(it.resp.Entry(), it.resp.Referral(), it.resp.Controls())
	}
}

// receive queues the items of one go-ldap result.
func (it *searchIterator) receive(entry *ldap.Entry, referral string, ctls []ldap.Control) {
	if it.pending != nil {
		it.queue = append(it.queue, ldapclient.SearchItem{Intermediate: intermediateResponse(it.pending)})
		it.pending = nil
	}

	switch {
	case entry != nil:
		it.queue = append(it.queue, ldapclient.SearchItem{Entry: convertEntry(entry, it.req)})
	case referral != "":
		it.queue = append(it.queue, ldapclient.SearchItem{Reference: &ldapclient.SearchReference{URLs: []string{referral}}})
	case len(ctls) > 0:
		it.pending = ctls
	}
}

// complete records the outcome of a search whose item stream has ended.
func (it *searchIterator) complete() {
	if err := it.resp.Err(); err != nil {
		it.finish(operationError("search", err, nil))
		return
	}
	// go-ldap ends the stream silently when the search context is cancelled.
	if err := it.ctx.Err(); err != nil {
		it.finish(err)
		return
	}

	ctls, err := it.controls.ProcessResponseControls(it.req.Controls, it.pending)
	it.pending = nil
	if err != nil {
		it.finish(err)
		return
	}
	it.response = ldapclient.NewResponse(ldapclient.Void{}, ldapclient.ResponseMeta{
		ResultCode: ldapclient.ResultSuccess,
		Controls:   ctls,
	})
	it.finish(nil)
}

func (it *searchIterator) finish(err error) {
	it.err = err
	it.done = true
	it.Close()
}

func (it *searchIterator) Item() ldapclient.SearchItem { return it.item }

func (it *searchIterator) Err() error {
	if !it.done {
		return nil
	}
	return it.err
}

func (it *searchIterator) Response() *ldapclient.Response[ldapclient.Void] { return it.response }

// Close cancels the search and drains the result stream so that the go-ldap
// reader goroutine can exit.
func (it *searchIterator) Close() error {
	it.closeOnce.Do(func() {
		it.cancel()
		for it.resp.Next() {
		}
	})
	return nil
}

// convertEntry converts a go-ldap entry, keeping the raw bytes of binary
// attributes.
func convertEntry(e *ldap.Entry, req *ldapclient.SearchRequest) *ldapclient.Entry {
	entry := ldapclient.NewEntry(e.DN)
	for _, attr := range e.Attributes {
		if req.IsBinaryAttribute(attr.Name) {
			entry.Attributes = append(entry.Attributes, ldapclient.NewBinaryAttribute(attr.Name, attr.ByteValues...))
			continue
		}
		entry.Attributes = append(entry.Attributes, ldapclient.NewAttribute(attr.Name, attr.Values...))
	}
	return entry
}

// intermediateResponse converts the control go-ldap decodes from an
// intermediate response message.
func intermediateResponse(ctls []ldap.Control) *ldapclient.IntermediateResponse {
	ctl := ctls[0]
	ir := &ldapclient.IntermediateResponse{OID: ctl.GetControlType()}
	if s, ok := ctl.(*ldap.ControlString); ok && s.ControlValue != "" {
		ir.Value = []byte(s.ControlValue)
	}
	return ir
}
