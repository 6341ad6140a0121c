package ldap

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Request is an immutable description of one protocol operation. Callers
// must not modify a request once it has been handed to an operation.
type Request interface {
	RequestControls() []RequestControl
	Validate() error
}

// DefaultIgnoreResultCodes lists the search result codes that complete a
// search with the entries gathered so far.
var DefaultIgnoreResultCodes = []ResultCode{ResultTimeLimitExceeded, ResultSizeLimitExceeded}

// SASL mechanisms supported by BindRequest.
const (
	SASLExternal = "EXTERNAL"
	SASLGSSAPI   = "GSSAPI"
)

// BindRequest authenticates a connection.
type BindRequest struct {
	DN            string
	Password      string
	SASLMechanism string
	Controls      []RequestControl
}

func (r *BindRequest) RequestControls() []RequestControl { return r.Controls }

func (r *BindRequest) Validate() error {
	switch r.SASLMechanism {
	case "", SASLExternal, SASLGSSAPI:
	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", r.SASLMechanism)
	}
	if r.SASLMechanism == "" && r.DN == "" && r.Password != "" {
		return errors.New("bind password requires a bind DN")
	}
	return nil
}

func (r *BindRequest) String() string {
	return fmt.Sprintf("[dn=%s, saslMechanism=%s, controls=%v]", r.DN, r.SASLMechanism, r.Controls)
}

// AddRequest creates an entry.
type AddRequest struct {
	DN         string
	Attributes map[string][]string
	Controls   []RequestControl
}

func (r *AddRequest) RequestControls() []RequestControl { return r.Controls }

func (r *AddRequest) Validate() error {
	if r.DN == "" {
		return errors.New("DN cannot be empty")
	}
	if len(r.Attributes) == 0 {
		return errors.New("at least one attribute is required")
	}
	return nil
}

// CompareRequest asserts an attribute value on an entry.
type CompareRequest struct {
	DN        string
	Attribute string
	Value     string
	Controls  []RequestControl
}

func (r *CompareRequest) RequestControls() []RequestControl { return r.Controls }

func (r *CompareRequest) Validate() error {
	if r.DN == "" {
		return errors.New("DN cannot be empty")
	}
	if r.Attribute == "" {
		return errors.New("attribute cannot be empty")
	}
	return nil
}

// DeleteRequest removes an entry.
type DeleteRequest struct {
	DN       string
	Controls []RequestControl
}

func (r *DeleteRequest) RequestControls() []RequestControl { return r.Controls }

func (r *DeleteRequest) Validate() error {
	if r.DN == "" {
		return errors.New("DN cannot be empty")
	}
	return nil
}

// ModifyRequest changes the attributes of an entry.
type ModifyRequest struct {
	DN                string
	AddAttributes     map[string][]string
	ReplaceAttributes map[string][]string
	DeleteAttributes  map[string][]string
	Controls          []RequestControl
}

func (r *ModifyRequest) RequestControls() []RequestControl { return r.Controls }

func (r *ModifyRequest) Validate() error {
	if r.DN == "" {
		return errors.New("DN cannot be empty")
	}
	if len(r.AddAttributes) == 0 && len(r.ReplaceAttributes) == 0 && len(r.DeleteAttributes) == 0 {
		return errors.New("at least one modification is required")
	}
	return nil
}

// ModifyDNRequest renames or moves an entry.
type ModifyDNRequest struct {
	DN           string
	NewRDN       string
	DeleteOldRDN bool
	NewSuperior  string
	Controls     []RequestControl
}

func (r *ModifyDNRequest) RequestControls() []RequestControl { return r.Controls }

func (r *ModifyDNRequest) Validate() error {
	if r.DN == "" {
		return errors.New("DN cannot be empty")
	}
	if r.NewRDN == "" {
		return errors.New("new RDN cannot be empty")
	}
	return nil
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN            string
	Scope             SearchScope
	Filter            string
	Attributes        []string
	SizeLimit         int
	TimeLimit         time.Duration
	DerefAliases      DerefAliases
	TypesOnly         bool
	ReferralBehavior  ReferralBehavior
	SortBehavior      SortBehavior
	BinaryAttributes  []string
	IgnoreResultCodes []ResultCode
	Controls          []RequestControl

	EntryHandlers        []SearchEntryHandler
	ReferenceHandlers    []SearchReferenceHandler
	IntermediateHandlers []IntermediateResponseHandler
}

// NewSearchRequest creates a subtree search with the default ignored result codes.
func NewSearchRequest(baseDN, filter string, attrs ...string) *SearchRequest {
	if filter == "" {
		filter = "(objectClass=*)"
	}
	return &SearchRequest{
		BaseDN:            baseDN,
		Scope:             ScopeWholeSubtree,
		Filter:            filter,
		Attributes:        attrs,
		IgnoreResultCodes: slices.Clone(DefaultIgnoreResultCodes),
	}
}

func (r *SearchRequest) RequestControls() []RequestControl { return r.Controls }

func (r *SearchRequest) Validate() error {
	if r.Filter == "" {
		return errors.New("filter cannot be empty")
	}
	if r.Scope < ScopeBaseObject || r.Scope > ScopeWholeSubtree {
		return fmt.Errorf("invalid search scope: %d", r.Scope)
	}
	if r.SizeLimit < 0 {
		return errors.New("size limit cannot be negative")
	}
	if r.TimeLimit < 0 {
		return errors.New("time limit cannot be negative")
	}
	return nil
}

// IsBinaryAttribute reports whether name was requested as a binary attribute.
func (r *SearchRequest) IsBinaryAttribute(name string) bool {
	return slices.ContainsFunc(r.BinaryAttributes, func(a string) bool { return strings.EqualFold(a, name) })
}

// ignoresResultCode reports whether a search ending with code completes normally.
func (r *SearchRequest) ignoresResultCode(code ResultCode) bool {
	return slices.Contains(r.IgnoreResultCodes, code)
}

// Clone returns a shallow copy of the request with cloned slices.
func (r *SearchRequest) Clone() *SearchRequest {
	c := *r
	c.Attributes = slices.Clone(r.Attributes)
	c.BinaryAttributes = slices.Clone(r.BinaryAttributes)
	c.IgnoreResultCodes = slices.Clone(r.IgnoreResultCodes)
	c.Controls = slices.Clone(r.Controls)
	c.EntryHandlers = slices.Clone(r.EntryHandlers)
	c.ReferenceHandlers = slices.Clone(r.ReferenceHandlers)
	c.IntermediateHandlers = slices.Clone(r.IntermediateHandlers)
	return &c
}

// WithFilter returns a copy of the request with a different filter.
func (r *SearchRequest) WithFilter(filter string) *SearchRequest {
	c := r.Clone()
	c.Filter = filter
	return c
}

// WithSearchFilter returns a copy of the request with the formatted filter.
func (r *SearchRequest) WithSearchFilter(filter SearchFilter) *SearchRequest {
	return r.WithFilter(filter.Format())
}

// withPagedCookie returns a copy of the request continuing from cookie.
func (r *SearchRequest) withPagedCookie(cookie []byte) (*SearchRequest, bool) {
	ctls, ok := withPagedCookie(r.Controls, cookie)
	if !ok {
		return nil, false
	}
	c := r.Clone()
	c.Controls = ctls
	return c, true
}

// CacheKey returns a canonical encoding of every field of the request. Two
// requests with equal keys are structurally equal.
func (r *SearchRequest) CacheKey() string {
	var b strings.Builder
	fmt.Fprintf(&b, "base=%q;scope=%d;filter=%q;attrs=%q;size=%d;time=%d;deref=%d;typesOnly=%t;referral=%d;sort=%d;binary=%q;ignore=%d",
		r.BaseDN, r.Scope, r.Filter, r.Attributes, r.SizeLimit, int64(r.TimeLimit), r.DerefAliases,
		r.TypesOnly, r.ReferralBehavior, r.SortBehavior, r.BinaryAttributes, r.IgnoreResultCodes)
	for _, c := range r.Controls {
		fmt.Fprintf(&b, ";control=%T%+v", c, c)
	}
	for _, h := range r.EntryHandlers {
		fmt.Fprintf(&b, ";entryHandler=%T%+v", h, h)
	}
	for _, h := range r.ReferenceHandlers {
		fmt.Fprintf(&b, ";referenceHandler=%T%+v", h, h)
	}
	for _, h := range r.IntermediateHandlers {
		fmt.Fprintf(&b, ";intermediateHandler=%T%+v", h, h)
	}
	return b.String()
}

func (r *SearchRequest) String() string {
	return fmt.Sprintf("[baseDN=%s, scope=%s, filter=%s, attributes=%v, sizeLimit=%d, timeLimit=%s, deref=%s, referral=%s, sort=%s, controls=%d]",
		r.BaseDN, r.Scope, r.Filter, r.Attributes, r.SizeLimit, r.TimeLimit, r.DerefAliases, r.ReferralBehavior, r.SortBehavior, len(r.Controls))
}
