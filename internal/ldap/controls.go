package ldap

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
)

const (
	OIDPagedResults         = "1.2.840.113556.1.4.319"
	OIDManageDsaIT          = "2.16.840.1.113730.3.4.2"
	OIDPasswordPolicy       = "1.3.6.1.4.1.42.2.27.8.5.1"
	OIDServerSideSort       = "1.2.840.113556.1.4.473"
	OIDServerSideSortResult = "1.2.840.113556.1.4.474"
)

// RequestControl is a protocol extension attached to a request.
type RequestControl interface {
	OID() string
	Critical() bool
}

// ResponseControl is a protocol extension returned with a response.
// Request and response controls are related only by OID.
type ResponseControl interface {
	OID() string
	Critical() bool
}

// PagedResultsControl requests simple paged results (RFC 2696).
type PagedResultsControl struct {
	Size        uint32
	Cookie      []byte
	Criticality bool
}

func (c *PagedResultsControl) OID() string    { return OIDPagedResults }
func (c *PagedResultsControl) Critical() bool { return c.Criticality }

// PagedResultsResponseControl carries the server's paging state.
type PagedResultsResponseControl struct {
	Size        uint32
	Cookie      []byte
	Criticality bool
}

func (c *PagedResultsResponseControl) OID() string    { return OIDPagedResults }
func (c *PagedResultsResponseControl) Critical() bool { return c.Criticality }

// ManageDsaITControl asks the server to treat referral objects as normal entries.
type ManageDsaITControl struct {
	Criticality bool
}

func (c *ManageDsaITControl) OID() string    { return OIDManageDsaIT }
func (c *ManageDsaITControl) Critical() bool { return c.Criticality }

// PasswordPolicyControl requests password policy information on bind.
type PasswordPolicyControl struct {
	Criticality bool
}

func (c *PasswordPolicyControl) OID() string    { return OIDPasswordPolicy }
func (c *PasswordPolicyControl) Critical() bool { return c.Criticality }

// PasswordPolicyResponseControl reports password policy state.
// Expire and Grace are -1 when absent.
type PasswordPolicyResponseControl struct {
	Expire      int64
	Grace       int64
	Error       int8
	ErrorString string
}

func (c *PasswordPolicyResponseControl) OID() string    { return OIDPasswordPolicy }
func (c *PasswordPolicyResponseControl) Critical() bool { return false }

// SortKey is one server-side sort key.
type SortKey struct {
	AttributeType string
	MatchingRule  string
	Reverse       bool
}

// SortControl requests server-side sorting (RFC 2891).
type SortControl struct {
	Keys        []SortKey
	Criticality bool
}

func (c *SortControl) OID() string    { return OIDServerSideSort }
func (c *SortControl) Critical() bool { return c.Criticality }

// SortResponseControl reports the outcome of server-side sorting.
type SortResponseControl struct {
	Result        ResultCode
	AttributeType string
}

func (c *SortResponseControl) OID() string    { return OIDServerSideSortResult }
func (c *SortResponseControl) Critical() bool { return false }

// GenericControl is an opaque control identified only by its OID and a
// string value. It serves as both request and response control.
type GenericControl struct {
	ControlOID  string
	Criticality bool
	Value       string
}

func (c *GenericControl) OID() string    { return c.ControlOID }
func (c *GenericControl) Critical() bool { return c.Criticality }

// ControlHandler converts controls with one OID to and from a provider's
// native control type N.
type ControlHandler[N any] interface {
	OID() string
	ProcessRequest(ctl RequestControl) (N, error)
	// ProcessResponse receives the request controls that produced the
	// response so that paging state can be correlated.
	ProcessResponse(requestControls []RequestControl, native N) (ResponseControl, error)
}

// ControlProcessor translates controls through a registry of per-OID handlers.
type ControlProcessor[N any] struct {
	mu       sync.RWMutex
	handlers map[string]ControlHandler[N]
	oidOf    func(N) string
}

// NewControlProcessor creates a processor. oidOf extracts the OID of a
// native response control.
func NewControlProcessor[N any](oidOf func(N) string, handlers ...ControlHandler[N]) *ControlProcessor[N] {
	p := &ControlProcessor[N]{
		handlers: make(map[string]ControlHandler[N], len(handlers)),
		oidOf:    oidOf,
	}
	for _, h := range handlers {
		p.handlers[h.OID()] = h
	}
	return p
}

// Register adds or replaces the handler for h.OID().
func (p *ControlProcessor[N]) Register(h ControlHandler[N]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[h.OID()] = h
}

// Supports reports whether a handler is registered for oid.
func (p *ControlProcessor[N]) Supports(oid string) bool {
	_, ok := p.handler(oid)
	return ok
}

func (p *ControlProcessor[N]) handler(oid string) (ControlHandler[N], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[oid]
	return h, ok
}

// ProcessRequestControls converts request controls to native controls. The
// whole list fails if any control has no handler.
func (p *ControlProcessor[N]) ProcessRequestControls(ctls []RequestControl) ([]N, error) {
	if len(ctls) == 0 {
		return nil, nil
	}
	for _, c := range ctls {
		if _, ok := p.handler(c.OID()); !ok {
			return nil, &UnsupportedControlError{OID: c.OID()}
		}
	}
	native := make([]N, 0, len(ctls))
	for _, c := range ctls {
		h, _ := p.handler(c.OID())
		n, err := h.ProcessRequest(c)
		if err != nil {
			return nil, fmt.Errorf("failed to process request control %s: %w", c.OID(), err)
		}
		native = append(native, n)
	}
	return native, nil
}

// ProcessResponseControls converts native response controls, given the
// request controls that were sent.
func (p *ControlProcessor[N]) ProcessResponseControls(requestControls []RequestControl, native []N) ([]ResponseControl, error) {
	if len(native) == 0 {
		return nil, nil
	}
	ctls := make([]ResponseControl, 0, len(native))
	for _, n := range native {
		oid := p.oidOf(n)
		h, ok := p.handler(oid)
		if !ok {
			return nil, &UnsupportedControlError{OID: oid, Response: true}
		}
		c, err := h.ProcessResponse(requestControls, n)
		if err != nil {
			return nil, fmt.Errorf("failed to process response control %s: %w", oid, err)
		}
		ctls = append(ctls, c)
	}
	return ctls, nil
}

// SearchAgain reports whether a search must continue: a paged results
// response control with a non-empty cookie was returned.
func SearchAgain(ctls []ResponseControl) bool {
	return len(pagedCookie(ctls)) > 0
}

// pagedCookie returns the cookie of the paged results response control
// selected by findPagedResults.
func pagedCookie(ctls []ResponseControl) []byte {
	if prc := findPagedResults(ctls); prc != nil {
		return prc.Cookie
	}
	return nil
}

// findPagedResults returns the first paged results response control with a
// non-empty cookie, falling back to the first paged results control.
func findPagedResults(ctls []ResponseControl) *PagedResultsResponseControl {
	var first *PagedResultsResponseControl
	for _, c := range ctls {
		prc, ok := c.(*PagedResultsResponseControl)
		if !ok {
			continue
		}
		if len(prc.Cookie) > 0 {
			return prc
		}
		if first == nil {
			first = prc
		}
	}
	return first
}
