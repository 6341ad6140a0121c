package ldap

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// SRVResolver looks up DNS SRV records. *net.Resolver satisfies it.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// DiscoveredEndpoint is a directory server found through DNS.
type DiscoveredEndpoint struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv" or "fallback"
}

// URL returns the endpoint as an LDAP URL.
func (e DiscoveredEndpoint) URL() string {
	scheme := "ldap"
	if e.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(e.Host, fmt.Sprint(e.Port)))
}

// SRVDiscovery finds the directory servers of a DNS domain.
type SRVDiscovery struct {
	resolver SRVResolver
}

// NewSRVDiscovery creates a discovery using resolver, or net.DefaultResolver
// when resolver is nil.
func NewSRVDiscovery(resolver SRVResolver) *SRVDiscovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &SRVDiscovery{resolver: resolver}
}

// Discover looks up the servers of domain. Services are tried in order:
//  1. _ldaps._tcp.<domain>, used alone when it returns records
//  2. _ldap._tcp.<domain>
//  3. _gc._tcp.<domain>
//
// When no records are found the domain itself is returned on the standard
// ldaps and ldap ports. Results are ordered by ascending priority, then by
// descending weight.
func (d *SRVDiscovery) Discover(ctx context.Context, domain string) ([]DiscoveredEndpoint, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return nil, errors.New("domain cannot be empty")
	}

	start := time.Now()
	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Starting server discovery", map[string]any{
		"domain": domain,
	})

	services := []struct {
		name   string
		useTLS bool
	}{
		{"ldaps", true},
		{"ldap", false},
		{"gc", false},
	}

	var endpoints []DiscoveredEndpoint
	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := d.lookup(ctx, svc.name, domain, svc.useTLS)
		if err != nil {
			tflog.SubsystemDebug(ctx, SubsystemLDAP, "SRV lookup failed, continuing to next service", map[string]any{
				"service": svc.name,
				"error":   err.Error(),
			})
			continue
		}
		endpoints = append(endpoints, found...)
		if svc.useTLS && len(found) > 0 {
			break
		}
	}

	if len(endpoints) == 0 {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "No SRV records found, using fallback servers", map[string]any{
			"domain":   domain,
			"duration": time.Since(start).String(),
		})
		return []DiscoveredEndpoint{
			{Host: domain, Port: 636, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
			{Host: domain, Port: 389, Priority: 1, Weight: 100, Source: "fallback"},
		}, nil
	}

	sortEndpoints(endpoints)

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Server discovery completed", map[string]any{
		"domain":       domain,
		"duration":     time.Since(start).String(),
		"server_count": len(endpoints),
	})
	return endpoints, nil
}

// DiscoverURL returns the discovered servers of domain as a whitespace
// separated URL list suitable for ConnectionConfig.LDAPURL.
func (d *SRVDiscovery) DiscoverURL(ctx context.Context, domain string) (string, error) {
	endpoints, err := d.Discover(ctx, domain)
	if err != nil {
		return "", err
	}
	urls := make([]string, len(endpoints))
	for i, e := range endpoints {
		urls[i] = e.URL()
	}
	return strings.Join(urls, " "), nil
}

func (d *SRVDiscovery) lookup(ctx context.Context, service, domain string, useTLS bool) ([]DiscoveredEndpoint, error) {
	_, records, err := d.resolver.LookupSRV(ctx, service, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("SRV lookup failed for _%s._tcp.%s: %w", service, domain, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for _%s._tcp.%s", service, domain)
	}

	endpoints := make([]DiscoveredEndpoint, 0, len(records))
	for _, srv := range records {
		endpoints = append(endpoints, DiscoveredEndpoint{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}
	return endpoints, nil
}

// sortEndpoints orders endpoints by priority (RFC 2782), heaviest first
// within a priority.
func sortEndpoints(endpoints []DiscoveredEndpoint) {
	slices.SortStableFunc(endpoints, func(a, b DiscoveredEndpoint) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
}
