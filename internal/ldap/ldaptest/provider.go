// Package ldaptest provides an in-memory Provider and ConnectionPool for
// testing code built on the ldap runtime.
package ldaptest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/isometry/dirclient/internal/ldap"
)

// SearchFunc replaces the default search behavior of a Provider.
type SearchFunc func(ctx context.Context, endpoint string, req *ldap.SearchRequest) (ldap.SearchIterator, error)

// OperationFunc is consulted before every operation, searches included. A non-nil
// error is returned to the caller instead of performing the operation.
type OperationFunc func(operation, endpoint string, req ldap.Request) error

// Provider is an in-memory ldap.Provider. Searches match entries added with
// AddEntry using a small filter subset: "(attr=*)" presence, "(attr=value)"
// equality, and "(objectClass=*)" matching everything. Other filters match
// every entry. Searches carrying a paged results control are paged.
type Provider struct {
	mu        sync.Mutex
	entries   []*ldap.Entry
	down      map[string]bool
	attempts  []string
	opened    []string
	sessions  []*Session
	calls     map[string]int
	search    SearchFunc
	operation OperationFunc
}

// NewProvider creates a provider with every endpoint reachable.
func NewProvider(entries ...*ldap.Entry) *Provider {
	return &Provider{
		entries: entries,
		down:    make(map[string]bool),
		calls:   make(map[string]int),
	}
}

// AddEntry adds entries returned by the default search.
func (p *Provider) AddEntry(entries ...*ldap.Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entries...)
}

// SetDown makes endpoints unreachable.
func (p *Provider) SetDown(endpoints ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range endpoints {
		p.down[e] = true
	}
}

// SetUp makes endpoints reachable again.
func (p *Provider) SetUp(endpoints ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range endpoints {
		delete(p.down, e)
	}
}

// OnSearch replaces the default search behavior.
func (p *Provider) OnSearch(fn SearchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.search = fn
}

// OnOperation installs fn ahead of every operation.
func (p *Provider) OnOperation(fn OperationFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.operation = fn
}

// Open implements ldap.Provider.
func (p *Provider) Open(ctx context.Context, endpoint string, _ *ldap.ConnectionConfig) (ldap.ProviderConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = append(p.attempts, endpoint)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.down[endpoint] {
		return nil, fmt.Errorf("dial %s: connection refused", endpoint)
	}
	s := &Session{provider: p, endpoint: endpoint}
	p.opened = append(p.opened, endpoint)
	p.sessions = append(p.sessions, s)
	return s, nil
}

// Attempts returns every endpoint an open was attempted against.
func (p *Provider) Attempts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.attempts)
}

// Opened returns the endpoints of successfully opened sessions.
func (p *Provider) Opened() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.opened)
}

// OpenSessions returns the number of sessions not yet closed.
func (p *Provider) OpenSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.sessions {
		if !s.closed {
			n++
		}
	}
	return n
}

// Calls returns the number of times operation was invoked.
func (p *Provider) Calls(operation string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[operation]
}

func (p *Provider) invoked(operation, endpoint string, req ldap.Request) error {
	p.mu.Lock()
	p.calls[operation]++
	fn := p.operation
	p.mu.Unlock()

	if fn == nil {
		return nil
	}
	return fn(operation, endpoint, req)
}

// Session is one fake provider session.
type Session struct {
	provider *Provider
	endpoint string
	closed   bool
}

// Endpoint returns the endpoint the session was opened against.
func (s *Session) Endpoint() string {
	return s.endpoint
}

func (s *Session) check(operation string, req ldap.Request) error {
	s.provider.mu.Lock()
	closed := s.closed
	s.provider.mu.Unlock()
	if closed {
		return ldap.NewOperationError(operation, ldap.ResultServerDown, "session closed", nil)
	}
	return s.provider.invoked(operation, s.endpoint, req)
}

func success() *ldap.Response[ldap.Void] {
	return ldap.NewResponse(ldap.Void{}, ldap.ResponseMeta{ResultCode: ldap.ResultSuccess})
}

func (s *Session) Bind(_ context.Context, req *ldap.BindRequest) (*ldap.Response[ldap.Void], error) {
	if err := s.check("bind", req); err != nil {
		return nil, err
	}
	return success(), nil
}

func (s *Session) Add(_ context.Context, req *ldap.AddRequest) (*ldap.Response[ldap.Void], error) {
	if err := s.check("add", req); err != nil {
		return nil, err
	}
	entry := ldap.NewEntry(req.DN)
	for name, values := range req.Attributes {
		entry.AddAttribute(ldap.NewAttribute(name, values...))
	}
	s.provider.AddEntry(entry)
	return success(), nil
}

func (s *Session) Compare(_ context.Context, req *ldap.CompareRequest) (*ldap.Response[bool], error) {
	if err := s.check("compare", req); err != nil {
		return nil, err
	}
	entry := s.provider.find(req.DN)
	if entry == nil {
		return nil, ldap.NewOperationError("compare", ldap.ResultNoSuchObject, "", nil)
	}
	match := slices.ContainsFunc(entry.GetAttributeValues(req.Attribute), func(v string) bool {
		return strings.EqualFold(v, req.Value)
	})
	code := ldap.ResultCompareFalse
	if match {
		code = ldap.ResultCompareTrue
	}
	return ldap.NewResponse(match, ldap.ResponseMeta{ResultCode: code}), nil
}

func (s *Session) Delete(_ context.Context, req *ldap.DeleteRequest) (*ldap.Response[ldap.Void], error) {
	if err := s.check("delete", req); err != nil {
		return nil, err
	}
	p := s.provider
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.entries)
	p.entries = slices.DeleteFunc(p.entries, func(e *ldap.Entry) bool { return strings.EqualFold(e.DN, req.DN) })
	if len(p.entries) == n {
		return nil, ldap.NewOperationError("delete", ldap.ResultNoSuchObject, "", nil)
	}
	return success(), nil
}

func (s *Session) Modify(_ context.Context, req *ldap.ModifyRequest) (*ldap.Response[ldap.Void], error) {
	if err := s.check("modify", req); err != nil {
		return nil, err
	}
	entry := s.provider.find(req.DN)
	if entry == nil {
		return nil, ldap.NewOperationError("modify", ldap.ResultNoSuchObject, "", nil)
	}
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	for name, values := range req.AddAttributes {
		entry.MergeAttribute(ldap.NewAttribute(name, values...))
	}
	for name, values := range req.ReplaceAttributes {
		entry.AddAttribute(ldap.NewAttribute(name, values...))
	}
	for name, values := range req.DeleteAttributes {
		attr := entry.Attribute(name)
		if attr == nil {
			continue
		}
		if len(values) == 0 {
			attr.Values = nil
			continue
		}
		attr.Values = slices.DeleteFunc(attr.Values, func(v string) bool { return slices.Contains(values, v) })
	}
	return success(), nil
}

func (s *Session) ModifyDN(_ context.Context, req *ldap.ModifyDNRequest) (*ldap.Response[ldap.Void], error) {
	if err := s.check("modifyDN", req); err != nil {
		return nil, err
	}
	entry := s.provider.find(req.DN)
	if entry == nil {
		return nil, ldap.NewOperationError("modifyDN", ldap.ResultNoSuchObject, "", nil)
	}
	parent := req.NewSuperior
	if parent == "" {
		if _, rest, ok := strings.Cut(req.DN, ","); ok {
			parent = rest
		}
	}
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	entry.DN = req.NewRDN
	if parent != "" {
		entry.DN += "," + parent
	}
	return success(), nil
}

func (s *Session) Search(ctx context.Context, req *ldap.SearchRequest) (ldap.SearchIterator, error) {
	if err := s.check("search", req); err != nil {
		return nil, err
	}
	s.provider.mu.Lock()
	fn := s.provider.search
	s.provider.mu.Unlock()
	if fn != nil {
		return fn(ctx, s.endpoint, req)
	}
	return s.provider.defaultSearch(req), nil
}

func (s *Session) Close() error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	s.closed = true
	return nil
}

func (p *Provider) find(dn string) *ldap.Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if strings.EqualFold(e.DN, dn) {
			return e
		}
	}
	return nil
}

func (p *Provider) defaultSearch(req *ldap.SearchRequest) ldap.SearchIterator {
	p.mu.Lock()
	var matched []*ldap.Entry
	for _, e := range p.entries {
		if inScope(e.DN, req.BaseDN) && matches(e, req.Filter) {
			matched = append(matched, e.Clone())
		}
	}
	p.mu.Unlock()

	var responseControls []ldap.ResponseControl
	if idx := slices.IndexFunc(req.Controls, func(c ldap.RequestControl) bool {
		_, ok := c.(*ldap.PagedResultsControl)
		return ok
	}); idx >= 0 {
		paged := req.Controls[idx].(*ldap.PagedResultsControl)
		offset, _ := strconv.Atoi(string(paged.Cookie))
		offset = min(offset, len(matched))
		end := len(matched)
		if paged.Size > 0 {
			end = min(offset+int(paged.Size), len(matched))
		}
		var cookie []byte
		if end < len(matched) {
			cookie = []byte(strconv.Itoa(end))
		}
		matched = matched[offset:end]
		responseControls = append(responseControls, &ldap.PagedResultsResponseControl{Cookie: cookie})
	}

	items := make([]ldap.SearchItem, len(matched))
	for i, e := range matched {
		items[i] = ldap.SearchItem{Entry: e}
	}
	return ldap.NewSliceIterator(items, ldap.NewResponse(ldap.Void{}, ldap.ResponseMeta{
		ResultCode: ldap.ResultSuccess,
		Controls:   responseControls,
	}), nil)
}

func inScope(dn, base string) bool {
	if base == "" {
		return true
	}
	dn, base = strings.ToLower(dn), strings.ToLower(base)
	return dn == base || strings.HasSuffix(dn, ","+base)
}

func matches(e *ldap.Entry, filter string) bool {
	inner, ok := strings.CutPrefix(filter, "(")
	if !ok {
		return true
	}
	inner, ok = strings.CutSuffix(inner, ")")
	if !ok || strings.ContainsAny(inner, "()&|!") {
		return true
	}
	name, value, ok := strings.Cut(inner, "=")
	if !ok {
		return true
	}
	if value == "*" {
		return strings.EqualFold(name, "objectClass") || e.Attribute(name) != nil
	}
	return slices.ContainsFunc(e.GetAttributeValues(name), func(v string) bool {
		return strings.EqualFold(v, value)
	})
}
