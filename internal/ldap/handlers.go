package ldap

import (
	"context"
	"strings"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// HandlerResult is the outcome of a search item handler. A nil Result drops
// the item; Abort stops the search without error once the item is handled.
type HandlerResult[T any] struct {
	Result T
	Abort  bool
}

// SearchEntryHandler transforms or filters search entries.
type SearchEntryHandler interface {
	HandleEntry(ctx context.Context, req *SearchRequest, entry *Entry) (HandlerResult[*Entry], error)
}

// SearchReferenceHandler transforms or filters search references.
type SearchReferenceHandler interface {
	HandleReference(ctx context.Context, req *SearchRequest, ref *SearchReference) (HandlerResult[*SearchReference], error)
}

// IntermediateResponseHandler observes intermediate responses.
type IntermediateResponseHandler interface {
	HandleIntermediate(ctx context.Context, req *SearchRequest, resp *IntermediateResponse) (HandlerResult[*IntermediateResponse], error)
}

// SearchEntryHandlerFunc adapts a function to SearchEntryHandler.
type SearchEntryHandlerFunc func(ctx context.Context, req *SearchRequest, entry *Entry) (HandlerResult[*Entry], error)

func (f SearchEntryHandlerFunc) HandleEntry(ctx context.Context, req *SearchRequest, entry *Entry) (HandlerResult[*Entry], error) {
	return f(ctx, req, entry)
}

// SearchReferenceHandlerFunc adapts a function to SearchReferenceHandler.
type SearchReferenceHandlerFunc func(ctx context.Context, req *SearchRequest, ref *SearchReference) (HandlerResult[*SearchReference], error)

func (f SearchReferenceHandlerFunc) HandleReference(ctx context.Context, req *SearchRequest, ref *SearchReference) (HandlerResult[*SearchReference], error) {
	return f(ctx, req, ref)
}

// IntermediateResponseHandlerFunc adapts a function to IntermediateResponseHandler.
type IntermediateResponseHandlerFunc func(ctx context.Context, req *SearchRequest, resp *IntermediateResponse) (HandlerResult[*IntermediateResponse], error)

func (f IntermediateResponseHandlerFunc) HandleIntermediate(ctx context.Context, req *SearchRequest, resp *IntermediateResponse) (HandlerResult[*IntermediateResponse], error) {
	return f(ctx, req, resp)
}

// CaseChange selects a case transformation.
type CaseChange int

const (
	CaseNone CaseChange = iota
	CaseLower
	CaseUpper
)

func (c CaseChange) apply(s string) string {
	switch c {
	case CaseLower:
		return strings.ToLower(s)
	case CaseUpper:
		return strings.ToUpper(s)
	default:
		return s
	}
}

// CaseChangeHandler changes the case of entry DNs, attribute names and
// string attribute values. Binary values are never changed.
type CaseChangeHandler struct {
	DN             CaseChange
	AttributeName  CaseChange
	AttributeValue CaseChange
}

func (h *CaseChangeHandler) HandleEntry(_ context.Context, _ *SearchRequest, entry *Entry) (HandlerResult[*Entry], error) {
	out := &Entry{DN: h.DN.apply(entry.DN)}
	for _, attr := range entry.Attributes {
		changed := attr.clone()
		changed.Name = h.AttributeName.apply(attr.Name)
		if !changed.Binary {
			for i, v := range changed.Values {
				changed.Values[i] = h.AttributeValue.apply(v)
			}
		}
		out.MergeAttribute(changed)
	}
	return HandlerResult[*Entry]{Result: out}, nil
}

// LogResponseHandler logs every successful response at debug level.
type LogResponseHandler[Q Request, S any] struct{}

func (LogResponseHandler[Q, S]) Handle(ctx context.Context, conn *Connection, req Q, resp *Response[S]) {
	fields := map[string]any{
		"endpoint":       conn.Endpoint(),
		"correlation_id": resp.CorrelationID(),
		"response":       resp.String(),
	}
	if resp.HasResultCode() {
		fields["result_code"] = int(resp.ResultCode())
	}
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Operation response", fields)
}

// MetricsResponseHandler counts successful responses by operation and
// result code.
type MetricsResponseHandler[Q Request, S any] struct {
	Operation string
	Metrics   *Metrics
}

func (h MetricsResponseHandler[Q, S]) Handle(_ context.Context, _ *Connection, _ Q, resp *Response[S]) {
	h.Metrics.response(h.Operation, resp.HasResultCode(), resp.ResultCode())
}
