package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
	"github.com/isometry/dirclient/internal/ldap/ad"
)

type searchOptions struct {
	scope        string
	sizeLimit    int
	timeLimit    time.Duration
	pageSize     uint32
	sortKeys     []string
	order        string
	binary       []string
	activeDir    bool
	dnCase       string
	nameCase     string
	normalizeDN  bool
	referrals    string
	manageDsaIT  bool
	cacheResults time.Duration
	params       map[string]string
	clientPaging bool
}

func addSearchFlags(flags *pflag.FlagSet, o *searchOptions) {
	flags.StringVar(&o.scope, "scope", "sub", "search scope: base, one or sub")
	flags.IntVar(&o.sizeLimit, "size-limit", 0, "maximum entries returned by the server, 0 for no limit")
	flags.DurationVar(&o.timeLimit, "time-limit", 0, "server-side time limit, 0 for no limit")
	flags.Uint32Var(&o.pageSize, "page-size", 0, "request simple paged results of this size")
	flags.StringSliceVar(&o.sortKeys, "sort-key", nil, "server-side sort key, prefix with - to reverse")
	flags.StringVar(&o.order, "order", "unordered", "result ordering: unordered, ordered or sorted")
	flags.StringSliceVar(&o.binary, "binary", nil, "attributes returned as binary values")
	flags.BoolVar(&o.activeDir, "ad", false, "decode Active Directory objectSid and objectGUID values")
	flags.StringVar(&o.dnCase, "dn-case", "", "change DN case: lower or upper")
	flags.StringVar(&o.nameCase, "attribute-case", "", "change attribute name case: lower or upper")
	flags.BoolVar(&o.normalizeDN, "normalize-dn", false, "normalize attribute type case in DNs")
	flags.StringVar(&o.referrals, "referrals", "keep", "referral handling: keep, ignore or throw")
	flags.BoolVar(&o.manageDsaIT, "manage-dsa-it", false, "send the ManageDsaIT control")
	flags.DurationVar(&o.cacheResults, "cache-ttl", 0, "cache identical searches for this long, 0 disables")
	flags.StringToStringVar(&o.params, "param", nil, "filter parameter NAME=VALUE replacing {NAME}, use 0, 1, ... for positional placeholders")
}

// filter returns template with the --param values applied.
func (o *searchOptions) filter(template string) ldapclient.SearchFilter {
	f := ldapclient.SearchFilter{Filter: template}
	for name, value := range o.params {
		f.SetParam(name, value)
	}
	return f
}

func parseScope(s string) (ldapclient.SearchScope, error) {
	for _, scope := range []ldapclient.SearchScope{ldapclient.ScopeBaseObject, ldapclient.ScopeSingleLevel, ldapclient.ScopeWholeSubtree} {
		if strings.EqualFold(scope.String(), s) {
			return scope, nil
		}
	}
	return 0, fmt.Errorf("unknown search scope: %q", s)
}

func parseReferrals(s string) (ldapclient.ReferralBehavior, error) {
	for _, r := range []ldapclient.ReferralBehavior{ldapclient.ReferralKeep, ldapclient.ReferralIgnore, ldapclient.ReferralThrow} {
		if strings.EqualFold(r.String(), s) {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown referral handling: %q", s)
}

func parseCase(s string) (ldapclient.CaseChange, error) {
	switch strings.ToLower(s) {
	case "":
		return ldapclient.CaseNone, nil
	case "lower":
		return ldapclient.CaseLower, nil
	case "upper":
		return ldapclient.CaseUpper, nil
	default:
		return ldapclient.CaseNone, fmt.Errorf("unknown case change: %q", s)
	}
}

// request builds the search request for baseDN, filter and attrs.
func (o *searchOptions) request(baseDN, filter string, attrs []string) (*ldapclient.SearchRequest, error) {
	if baseDN != "" {
		if err := ldapclient.ValidateDNSyntax(baseDN); err != nil {
			return nil, err
		}
	}
	req := ldapclient.NewSearchRequest(baseDN, o.filter(filter).Format(), attrs...)

	var err error
	if req.Scope, err = parseScope(o.scope); err != nil {
		return nil, err
	}
	if req.ReferralBehavior, err = parseReferrals(o.referrals); err != nil {
		return nil, err
	}
	order, ok := ldapclient.ParseSortBehavior(o.order)
	if !ok {
		return nil, fmt.Errorf("unknown result ordering: %q", o.order)
	}
	req.SortBehavior = order
	req.SizeLimit = o.sizeLimit
	req.TimeLimit = o.timeLimit
	req.BinaryAttributes = slices.Clone(o.binary)

	if o.pageSize > 0 {
		req.Controls = append(req.Controls, &ldapclient.PagedResultsControl{Size: o.pageSize})
	}
	if len(o.sortKeys) > 0 {
		sorting := &ldapclient.SortControl{}
		for _, key := range o.sortKeys {
			name, reverse := strings.CutPrefix(key, "-")
			sorting.Keys = append(sorting.Keys, ldapclient.SortKey{AttributeType: name, Reverse: reverse})
		}
		req.Controls = append(req.Controls, sorting)
	}
	if o.manageDsaIT {
		req.Controls = append(req.Controls, &ldapclient.ManageDsaITControl{})
	}

	if o.activeDir {
		for _, name := range []string{ad.AttributeObjectSID, ad.AttributeObjectGUID} {
			if !slices.ContainsFunc(req.BinaryAttributes, func(a string) bool { return strings.EqualFold(a, name) }) {
				req.BinaryAttributes = append(req.BinaryAttributes, name)
			}
		}
		req.EntryHandlers = append(req.EntryHandlers, ad.ObjectSIDHandler{}, ad.ObjectGUIDHandler{})
	}
	if o.normalizeDN {
		req.EntryHandlers = append(req.EntryHandlers, ldapclient.DNNormalizeHandler{})
	}
	dnCase, err := parseCase(o.dnCase)
	if err != nil {
		return nil, err
	}
	nameCase, err := parseCase(o.nameCase)
	if err != nil {
		return nil, err
	}
	if dnCase != ldapclient.CaseNone || nameCase != ldapclient.CaseNone {
		req.EntryHandlers = append(req.EntryHandlers, &ldapclient.CaseChangeHandler{DN: dnCase, AttributeName: nameCase})
	}

	return req, req.Validate()
}

func (o *searchOptions) searchOptions(metrics *ldapclient.Metrics) []ldapclient.SearchOption {
	opts := []ldapclient.SearchOption{
		ldapclient.WithSearchResponseHandlers(
			ldapclient.LogResponseHandler[*ldapclient.SearchRequest, *ldapclient.SearchResult]{},
			ldapclient.MetricsResponseHandler[*ldapclient.SearchRequest, *ldapclient.SearchResult]{Operation: "search", Metrics: metrics},
		),
	}
	if o.cacheResults > 0 {
		opts = append(opts, ldapclient.WithCache(ldapclient.NewSearchCache(o.cacheResults)))
	}
	return opts
}

func newSearchCommand(a *app) *cobra.Command {
	o := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search BASE-DN [FILTER [ATTRIBUTE...]]",
		Short: "Search the directory and print matching entries as LDIF",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter string
			if len(args) > 1 {
				filter = args[1]
			}
			var attrs []string
			if len(args) > 2 {
				attrs = args[2:]
			}
			req, err := o.request(args[0], filter, attrs)
			if err != nil {
				return err
			}

			return a.run(cmd, func(ctx context.Context, factory *ldapclient.ConnectionFactory) error {
				if o.clientPaging {
					return o.searchByPage(ctx, cmd.OutOrStdout(), factory, req)
				}
				resp, err := factory.Search(ctx, req, o.searchOptions(factory.Metrics())...)
				if err != nil {
					return err
				}
				return writeResponse(cmd.OutOrStdout(), resp)
			})
		},
	}
	flags := cmd.Flags()
	addSearchFlags(flags, o)
	flags.BoolVar(&o.clientPaging, "client-paging", false, "request paged results one page at a time, writing each page as it arrives")
	return cmd
}

// searchByPage runs req one page at a time on a single connection, writing
// every page before requesting the next.
func (o *searchOptions) searchByPage(ctx context.Context, out io.Writer, factory *ldapclient.ConnectionFactory, req *ldapclient.SearchRequest) error {
	conn, err := factory.Open(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	client := ldapclient.NewPagedResultsClient(conn, o.pageSize, o.searchOptions(factory.Metrics())...)
	resp, err := client.Execute(ctx, req)
	for {
		if err != nil {
			return err
		}
		if err := writeResponse(out, resp); err != nil {
			return err
		}
		if !client.HasMore(resp) {
			return nil
		}
		resp, err = client.ExecuteNext(ctx, req, resp)
	}
}

func newParallelSearchCommand(a *app) *cobra.Command {
	o := &searchOptions{}
	var (
		concurrency int
		pooled      bool
		attrs       []string
	)
	cmd := &cobra.Command{
		Use:   "psearch BASE-DN FILTER...",
		Short: "Run one search per filter concurrently and print every entry as LDIF",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := o.request(args[0], "", attrs)
			if err != nil {
				return err
			}
			filters := make([]ldapclient.SearchFilter, 0, len(args)-1)
			for _, template := range args[1:] {
				filters = append(filters, o.filter(template))
			}

			return a.run(cmd, func(ctx context.Context, factory *ldapclient.ConnectionFactory) error {
				search := ldapclient.NewParallelSearch(concurrency, o.searchOptions(factory.Metrics())...)
				var (
					responses []*ldapclient.Response[*ldapclient.SearchResult]
					err       error
				)
				if pooled {
					pool, err := ldapclient.NewBlockingPool(ctx, factory)
					if err != nil {
						return err
					}
					defer pool.Close()
					responses, err = search.FromPool(ctx, pool, req, filters...)
					if err != nil {
						return err
					}
				} else {
					responses, err = search.OnConnection(ctx, factory, req, filters...)
					if err != nil {
						return err
					}
				}

				out := cmd.OutOrStdout()
				for _, resp := range responses {
					if err := writeResponse(out, resp); err != nil {
						return err
					}
				}
				if len(responses) < len(filters) {
					return fmt.Errorf("%d of %d searches failed", len(filters)-len(responses), len(filters))
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	addSearchFlags(flags, o)
	flags.IntVar(&concurrency, "concurrency", 0, "maximum searches in flight, 0 for no limit")
	flags.BoolVar(&pooled, "pool", false, "run each search on its own pooled connection")
	flags.StringSliceVar(&attrs, "attributes", nil, "attributes to return")
	return cmd
}
