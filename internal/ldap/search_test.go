package ldap_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirclient/internal/ldap"
	"github.com/isometry/dirclient/internal/ldap/ldaptest"
)

const baseDN = "dc=example,dc=com"

func people(n int) []*ldap.Entry {
	dns := make([]string, n)
	for i := range dns {
		dns[i] = fmt.Sprintf("cn=user%d,%s", i, baseDN)
	}
	return ldaptest.Entries(dns...)
}

// replay makes every search of p return items, ending with err.
func replay(p *ldaptest.Provider, err error, items ...ldap.SearchItem) {
	p.OnSearch(func(context.Context, string, *ldap.SearchRequest) (ldap.SearchIterator, error) {
		final := ldap.NewResponse(ldap.Void{}, ldap.ResponseMeta{ResultCode: ldap.ResultSuccess})
		return ldap.NewSliceIterator(items, final, err), nil
	})
}

func entryItem(dn string) ldap.SearchItem {
	return ldap.SearchItem{Entry: ldaptest.Entries(dn)[0]}
}

func referenceItem(urls ...string) ldap.SearchItem {
	return ldap.SearchItem{Reference: &ldap.SearchReference{URLs: urls}}
}

func openSearch(t *testing.T, p *ldaptest.Provider, opts ...ldap.SearchOption) *ldap.SearchOperation {
	t.Helper()
	conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a", withRetry(0, 0, 0)))
	return ldap.NewSearchOperation(conn, opts...)
}

func TestSearchOperation_Entries(t *testing.T) {
	p := ldaptest.NewProvider(people(3)...)
	p.AddEntry(ldaptest.Entries("cn=other,dc=example,dc=org")...)

	req := ldap.NewSearchRequest(baseDN, "")
	req.SortBehavior = ldap.SortSorted
	resp, err := openSearch(t, p).Execute(t.Context(), req)
	require.NoError(t, err)

	assert.True(t, resp.HasResultCode())
	assert.Equal(t, ldap.ResultSuccess, resp.ResultCode())
	assert.Equal(t, []string{
		"cn=user0,dc=example,dc=com",
		"cn=user1,dc=example,dc=com",
		"cn=user2,dc=example,dc=com",
	}, resp.Result().EntryDNs())
}

func TestSearchOperation_EntryHandlers(t *testing.T) {
	t.Run("transform", func(t *testing.T) {
		p := ldaptest.NewProvider(people(2)...)
		req := ldap.NewSearchRequest(baseDN, "")
		req.EntryHandlers = []ldap.SearchEntryHandler{&ldap.CaseChangeHandler{DN: ldap.CaseUpper, AttributeValue: ldap.CaseUpper}}

		resp, err := openSearch(t, p).Execute(t.Context(), req)
		require.NoError(t, err)

		entry := resp.Result().EntryByDN("cn=user1,dc=example,dc=com")
		require.NotNil(t, entry)
		assert.Equal(t, "CN=USER1,DC=EXAMPLE,DC=COM", entry.DN)
		assert.Equal(t, "USER1", entry.GetAttributeValue("cn"))
	})

	t.Run("drop", func(t *testing.T) {
		p := ldaptest.NewProvider(people(3)...)
		var after int
		req := ldap.NewSearchRequest(baseDN, "")
		req.SortBehavior = ldap.SortSorted
		req.EntryHandlers = []ldap.SearchEntryHandler{
			ldap.SearchEntryHandlerFunc(func(_ context.Context, _ *ldap.SearchRequest, e *ldap.Entry) (ldap.HandlerResult[*ldap.Entry], error) {
				if strings.HasPrefix(e.DN, "cn=user1,") {
					return ldap.HandlerResult[*ldap.Entry]{}, nil
				}
				return ldap.HandlerResult[*ldap.Entry]{Result: e}, nil
			}),
			ldap.SearchEntryHandlerFunc(func(_ context.Context, _ *ldap.SearchRequest, e *ldap.Entry) (ldap.HandlerResult[*ldap.Entry], error) {
				after++
				return ldap.HandlerResult[*ldap.Entry]{Result: e}, nil
			}),
		}

		resp, err := openSearch(t, p).Execute(t.Context(), req)
		require.NoError(t, err)

		assert.Equal(t, []string{"cn=user0,dc=example,dc=com", "cn=user2,dc=example,dc=com"}, resp.Result().EntryDNs())
		assert.Equal(t, 2, after, "a dropped entry ends the chain")
	})

	t.Run("abort", func(t *testing.T) {
		p := ldaptest.NewProvider(people(5)...)
		req := ldap.NewSearchRequest(baseDN, "")
		req.Controls = []ldap.RequestControl{&ldap.PagedResultsControl{Size: 2}}
		req.EntryHandlers = []ldap.SearchEntryHandler{
			ldap.SearchEntryHandlerFunc(func(_ context.Context, _ *ldap.SearchRequest, e *ldap.Entry) (ldap.HandlerResult[*ldap.Entry], error) {
				return ldap.HandlerResult[*ldap.Entry]{Result: e, Abort: true}, nil
			}),
		}

		resp, err := openSearch(t, p).Execute(t.Context(), req)
		require.NoError(t, err)

		assert.Equal(t, 1, resp.Result().Size())
		assert.Equal(t, 1, p.Calls("search"), "an aborted search is not continued")
	})

	t.Run("error", func(t *testing.T) {
		p := ldaptest.NewProvider(people(2)...)
		errReject := errors.New("rejected")
		req := ldap.NewSearchRequest(baseDN, "")
		req.EntryHandlers = []ldap.SearchEntryHandler{
			ldap.SearchEntryHandlerFunc(func(context.Context, *ldap.SearchRequest, *ldap.Entry) (ldap.HandlerResult[*ldap.Entry], error) {
				return ldap.HandlerResult[*ldap.Entry]{}, errReject
			}),
		}
		conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a", withRetry(3, 0, 0)))

		_, err := ldap.NewSearchOperation(conn).Execute(t.Context(), req)

		assert.ErrorIs(t, err, errReject)
		assert.ErrorContains(t, err, "entry handler")
		assert.Equal(t, 1, p.Calls("search"))
	})
}

func TestSearchOperation_IntermediateHandlers(t *testing.T) {
	p := ldaptest.NewProvider()
	replay(p, nil,
		ldap.SearchItem{Intermediate: &ldap.IntermediateResponse{OID: "1.3.6.1.4.1.4203.1.9.1.4"}},
		entryItem("cn=a,"+baseDN),
	)
	var oids []string
	req := ldap.NewSearchRequest(baseDN, "")
	req.IntermediateHandlers = []ldap.IntermediateResponseHandler{
		ldap.IntermediateResponseHandlerFunc(func(_ context.Context, _ *ldap.SearchRequest, r *ldap.IntermediateResponse) (ldap.HandlerResult[*ldap.IntermediateResponse], error) {
			oids = append(oids, r.OID)
			return ldap.HandlerResult[*ldap.IntermediateResponse]{Result: r}, nil
		}),
	}

	resp, err := openSearch(t, p).Execute(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"1.3.6.1.4.1.4203.1.9.1.4"}, oids)
	assert.Equal(t, 1, resp.Result().Size())
}

func TestSearchOperation_Referrals(t *testing.T) {
	const referral = "ldap://b/dc=example,dc=com"

	tests := []struct {
		behavior   ldap.ReferralBehavior
		references int
		check      func(t *testing.T, err error)
	}{
		{behavior: ldap.ReferralKeep, references: 1},
		{behavior: ldap.ReferralIgnore, references: 0},
		{behavior: ldap.ReferralFollow, check: func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ldap.ErrReferralNotSupported)
		}},
		{behavior: ldap.ReferralThrow, check: func(t *testing.T, err error) {
			var opErr *ldap.OperationError
			require.ErrorAs(t, err, &opErr)
			assert.Equal(t, ldap.ResultReferral, opErr.ResultCode)
			assert.Equal(t, []string{referral}, opErr.ReferralURLs)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.behavior.String(), func(t *testing.T) {
			p := ldaptest.NewProvider()
			replay(p, nil, entryItem("cn=a,"+baseDN), referenceItem(referral))
			req := ldap.NewSearchRequest(baseDN, "")
			req.ReferralBehavior = tt.behavior

			resp, err := openSearch(t, p).Execute(t.Context(), req)

			if tt.check != nil {
				tt.check(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, resp.Result().Size())
			assert.Len(t, resp.Result().References(), tt.references)
		})
	}
}

func TestSearchOperation_ReferenceHandlers(t *testing.T) {
	p := ldaptest.NewProvider()
	replay(p, nil, referenceItem("ldap://b/"), referenceItem("ldap://c/"))
	req := ldap.NewSearchRequest(baseDN, "")
	req.ReferenceHandlers = []ldap.SearchReferenceHandler{
		ldap.SearchReferenceHandlerFunc(func(_ context.Context, _ *ldap.SearchRequest, ref *ldap.SearchReference) (ldap.HandlerResult[*ldap.SearchReference], error) {
			if ref.URLs[0] == "ldap://b/" {
				return ldap.HandlerResult[*ldap.SearchReference]{}, nil
			}
			return ldap.HandlerResult[*ldap.SearchReference]{Result: ref}, nil
		}),
	}

	resp, err := openSearch(t, p).Execute(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, []*ldap.SearchReference{{URLs: []string{"ldap://c/"}}}, resp.Result().References())
}

func TestSearchOperation_ResultCodes(t *testing.T) {
	t.Run("ignored", func(t *testing.T) {
		p := ldaptest.NewProvider()
		replay(p, ldap.NewOperationError("search", ldap.ResultSizeLimitExceeded, "size limit exceeded", nil),
			entryItem("cn=a,"+baseDN), entryItem("cn=b,"+baseDN))

		resp, err := openSearch(t, p).Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
		require.NoError(t, err)

		assert.Equal(t, ldap.ResultSizeLimitExceeded, resp.ResultCode())
		assert.Equal(t, "size limit exceeded", resp.Message())
		assert.Equal(t, 2, resp.Result().Size())
	})

	t.Run("not ignored", func(t *testing.T) {
		p := ldaptest.NewProvider()
		replay(p, ldap.NewOperationError("search", ldap.ResultSizeLimitExceeded, "", nil), entryItem("cn=a,"+baseDN))
		req := ldap.NewSearchRequest(baseDN, "")
		req.IgnoreResultCodes = nil

		_, err := openSearch(t, p).Execute(t.Context(), req)

		var opErr *ldap.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, ldap.ResultSizeLimitExceeded, opErr.ResultCode)
	})

	t.Run("retried", func(t *testing.T) {
		p := ldaptest.NewProvider(people(2)...)
		failFirst(p, "search", 1)
		conn := ldaptest.Open(t, ldaptest.NewFactory(t, p, "ldap://a", withRetry(1, 0, 0)))

		resp, err := ldap.NewSearchOperation(conn).Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
		require.NoError(t, err)

		assert.Equal(t, 2, resp.Result().Size())
		assert.Equal(t, 2, p.Calls("search"))
	})
}

func TestSearchOperation_PagedContinuation(t *testing.T) {
	p := ldaptest.NewProvider(people(5)...)
	req := ldap.NewSearchRequest(baseDN, "")
	req.Controls = []ldap.RequestControl{&ldap.PagedResultsControl{Size: 2}}

	resp, err := openSearch(t, p).Execute(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, 5, resp.Result().Size())
	assert.Equal(t, 3, p.Calls("search"))
	assert.False(t, ldap.SearchAgain(resp.Controls()))
	assert.Equal(t, &ldap.PagedResultsControl{Size: 2}, req.Controls[0], "request is not modified")
}

func TestSearchOperation_WithoutPagedContinuation(t *testing.T) {
	p := ldaptest.NewProvider(people(5)...)
	req := ldap.NewSearchRequest(baseDN, "")
	req.Controls = []ldap.RequestControl{&ldap.PagedResultsControl{Size: 2}}

	resp, err := openSearch(t, p, ldap.WithoutPagedContinuation()).Execute(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Result().Size())
	assert.Equal(t, 1, p.Calls("search"))
	assert.True(t, ldap.SearchAgain(resp.Controls()))
}

func TestSearchOperation_Cache(t *testing.T) {
	p := ldaptest.NewProvider(people(2)...)
	cache := ldap.NewSearchCache(0)
	search := openSearch(t, p, ldap.WithCache(cache))
	req := ldap.NewSearchRequest(baseDN, "")

	first, err := search.Execute(t.Context(), req)
	require.NoError(t, err)
	assert.True(t, first.HasResultCode())
	first.Result().Clear()

	second, err := search.Execute(t.Context(), ldap.NewSearchRequest(baseDN, ""))
	require.NoError(t, err)
	assert.False(t, second.HasResultCode())
	assert.Equal(t, 2, second.Result().Size(), "cached results are private copies")

	assert.Equal(t, 1, p.Calls("search"))
	assert.Equal(t, ldap.CacheStats{Hits: 1, Misses: 1, Entries: 1, HitRate: 50}, cache.Stats())
}

func TestConnectionFactory_Search(t *testing.T) {
	p := ldaptest.NewProvider(people(2)...)
	factory := ldaptest.NewFactory(t, p, "ldap://a")

	resp, err := factory.Search(t.Context(), ldap.NewSearchRequest(baseDN, "(cn=user1)"))
	require.NoError(t, err)

	assert.Equal(t, []string{"cn=user1,dc=example,dc=com"}, resp.Result().EntryDNs())
	assert.Zero(t, p.OpenSessions())
}

func TestSearchOperation_InvalidRequest(t *testing.T) {
	p := ldaptest.NewProvider()
	search := openSearch(t, p)

	_, err := search.Execute(t.Context(), nil)
	assert.ErrorIs(t, err, ldap.ErrNilRequest)

	req := ldap.NewSearchRequest(baseDN, "")
	req.SizeLimit = -1
	_, err = search.Execute(t.Context(), req)
	assert.EqualError(t, err, "invalid search request: size limit cannot be negative")
	assert.Zero(t, p.Calls("search"))
}
