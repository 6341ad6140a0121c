package goldap

import (
	"context"
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

type fakeResult struct {
	entry    *ldap.Entry
	referral string
	controls []ldap.Control
}

// fakeResponse replays results the way go-ldap's asynchronous search does.
type fakeResponse struct {
	results []fakeResult
	err     error
	pos     int
	current fakeResult
}

func (r *fakeResponse) Next() bool {
	if r.pos >= len(r.results) {
		return false
	}
	r.current = r.results[r.pos]
	r.pos++
	return true
}

func (r *fakeResponse) Entry() *ldap.Entry { return r.current.entry }

func (r *fakeResponse) Referral() string { return r.current.referral }

func (r *fakeResponse) Controls() []ldap.Control { return r.current.controls }

func (r *fakeResponse) Err() error {
	if r.pos < len(r.results) {
		return nil
	}
	return r.err
}

func newTestIterator(t *testing.T, req *ldapclient.SearchRequest, resp *fakeResponse) *searchIterator {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	t.Cleanup(cancel)
	return newSearchIterator(ctx, cancel, resp, req, NewControlProcessor())
}

func collect(ctx context.Context, it ldapclient.SearchIterator) []ldapclient.SearchItem {
	var items []ldapclient.SearchItem
	for it.Next(ctx) {
		items = append(items, it.Item())
	}
	return items
}

func TestSearchIterator_ItemsAndFinalControls(t *testing.T) {
	paged := ldap.NewControlPaging(2)
	paged.SetCookie([]byte("page-2"))

	resp := &fakeResponse{results: []fakeResult{
		{entry: &ldap.Entry{DN: "cn=a,dc=example,dc=com", Attributes: []*ldap.EntryAttribute{{Name: "cn", Values: []string{"a"}}}}},
		{controls: []ldap.Control{ldap.NewControlString("1.3.6.1.4.1.4203.1.9.1.4", false, "sync")}},
		{referral: "ldap://other.example.com/dc=example,dc=com"},
		{entry: &ldap.Entry{DN: "cn=b,dc=example,dc=com"}},
		{controls: []ldap.Control{paged}},
	}}
	it := newTestIterator(t, ldapclient.NewSearchRequest("dc=example,dc=com", ""), resp)

	items := collect(t.Context(), it)
	require.NoError(t, it.Err())
	require.Len(t, items, 4)

	assert.Equal(t, "cn=a,dc=example,dc=com", items[0].Entry.DN)
	assert.Equal(t, "a", items[0].Entry.GetAttributeValue("cn"))
	assert.Equal(t, "1.3.6.1.4.1.4203.1.9.1.4", items[1].Intermediate.OID)
	assert.Equal(t, []byte("sync"), items[1].Intermediate.Value)
	assert.Equal(t, []string{"ldap://other.example.com/dc=example,dc=com"}, items[2].Reference.URLs)
	assert.Equal(t, "cn=b,dc=example,dc=com", items[3].Entry.DN)

	final := it.Response()
	require.NotNil(t, final)
	assert.Equal(t, ldapclient.ResultSuccess, final.ResultCode())
	assert.True(t, ldapclient.SearchAgain(final.Controls()))
}

func TestSearchIterator_NoFinalControls(t *testing.T) {
	resp := &fakeResponse{results: []fakeResult{
		{entry: &ldap.Entry{DN: "cn=a,dc=example,dc=com"}},
	}}
	it := newTestIterator(t, ldapclient.NewSearchRequest("dc=example,dc=com", ""), resp)

	items := collect(t.Context(), it)
	require.NoError(t, it.Err())
	assert.Len(t, items, 1)
	require.NotNil(t, it.Response())
	assert.Empty(t, it.Response().Controls())
}

func TestSearchIterator_BinaryAttributes(t *testing.T) {
	sid := []byte{0x01, 0x05, 0x00}
	resp := &fakeResponse{results: []fakeResult{
		{entry: &ldap.Entry{DN: "cn=a,dc=example,dc=com", Attributes: []*ldap.EntryAttribute{
			{Name: "objectSid", Values: []string{string(sid)}, ByteValues: [][]byte{sid}},
			{Name: "cn", Values: []string{"a"}, ByteValues: [][]byte{[]byte("a")}},
		}}},
	}}
	req := ldapclient.NewSearchRequest("dc=example,dc=com", "")
	req.BinaryAttributes = []string{"objectsid"}
	it := newTestIterator(t, req, resp)

	items := collect(t.Context(), it)
	require.Len(t, items, 1)

	sidAttr := items[0].Entry.Attribute("objectSid")
	require.NotNil(t, sidAttr)
	assert.True(t, sidAttr.Binary)
	assert.Equal(t, [][]byte{sid}, sidAttr.ByteValues)
	assert.Empty(t, sidAttr.Values)

	cnAttr := items[0].Entry.Attribute("cn")
	require.NotNil(t, cnAttr)
	assert.False(t, cnAttr.Binary)
	assert.Equal(t, []string{"a"}, cnAttr.Values)
}

func TestSearchIterator_ResultError(t *testing.T) {
	resp := &fakeResponse{
		results: []fakeResult{{entry: &ldap.Entry{DN: "cn=a,dc=example,dc=com"}}},
		err: &ldap.Error{
			ResultCode: ldap.LDAPResultSizeLimitExceeded,
			Err:        errors.New("size limit exceeded"),
		},
	}
	it := newTestIterator(t, ldapclient.NewSearchRequest("dc=example,dc=com", ""), resp)

	items := collect(t.Context(), it)
	assert.Len(t, items, 1)

	var opErr *ldapclient.OperationError
	require.ErrorAs(t, it.Err(), &opErr)
	assert.Equal(t, ldapclient.ResultSizeLimitExceeded, opErr.ResultCode)
	assert.Equal(t, "search", opErr.Operation)
	assert.Nil(t, it.Response())
}

func TestSearchIterator_UnsupportedFinalControl(t *testing.T) {
	resp := &fakeResponse{results: []fakeResult{
		{controls: []ldap.Control{ldap.NewControlString("1.2.3.4", false, "")}},
	}}
	it := newTestIterator(t, ldapclient.NewSearchRequest("dc=example,dc=com", ""), resp)

	assert.Empty(t, collect(t.Context(), it))
	var unsupported *ldapclient.UnsupportedControlError
	assert.ErrorAs(t, it.Err(), &unsupported)
}

func TestSearchIterator_ContextCancelled(t *testing.T) {
	resp := &fakeResponse{results: []fakeResult{
		{entry: &ldap.Entry{DN: "cn=a,dc=example,dc=com"}},
		{entry: &ldap.Entry{DN: "cn=b,dc=example,dc=com"}},
	}}
	it := newTestIterator(t, ldapclient.NewSearchRequest("dc=example,dc=com", ""), resp)

	ctx, cancel := context.WithCancel(t.Context())
	require.True(t, it.Next(ctx))
	cancel()

	assert.False(t, it.Next(ctx))
	assert.ErrorIs(t, it.Err(), context.Canceled)
	assert.Equal(t, len(resp.results), resp.pos, "close drains the stream")
}

func TestSearchIterator_SearchContextCancelled(t *testing.T) {
	resp := &fakeResponse{}
	ctx, cancel := context.WithCancel(t.Context())
	it := newSearchIterator(ctx, cancel, resp, ldapclient.NewSearchRequest("dc=example,dc=com", ""), NewControlProcessor())
	cancel()

	assert.False(t, it.Next(t.Context()))
	assert.ErrorIs(t, it.Err(), context.Canceled)
}
