package ldap

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// SearchResult accumulates the entries and references of a search. Entries
// are keyed by lower-cased DN; adding an entry whose DN is already present
// replaces it in place. The iteration order of Entries is fixed at
// construction by a SortBehavior.
type SearchResult struct {
	sortBehavior SortBehavior
	entries      map[string]*Entry
	order        []string // arrival order, maintained for SortOrdered only
	references   []*SearchReference
}

// NewSearchResult creates a result with the given ordering discipline.
func NewSearchResult(sortBehavior SortBehavior, entries ...*Entry) *SearchResult {
	r := &SearchResult{
		sortBehavior: sortBehavior,
		entries:      make(map[string]*Entry, len(entries)),
	}
	r.AddEntry(entries...)
	return r
}

func entryKey(dn string) string {
	return strings.ToLower(dn)
}

// SortBehavior returns the ordering discipline of the result.
func (r *SearchResult) SortBehavior() SortBehavior {
	return r.sortBehavior
}

// AddEntry adds entries, replacing any entry with the same DN.
func (r *SearchResult) AddEntry(entries ...*Entry) {
	for _, e := range entries {
		if e == nil {
			continue
		}
		key := entryKey(e.DN)
		if _, exists := r.entries[key]; !exists && r.sortBehavior == SortOrdered {
			r.order = append(r.order, key)
		}
		r.entries[key] = e
	}
}

// MergeEntry adds e, unioning its attribute values into an existing entry
// with the same DN.
func (r *SearchResult) MergeEntry(e *Entry) {
	existing, ok := r.entries[entryKey(e.DN)]
	if !ok {
		r.AddEntry(e.Clone())
		return
	}
	for _, attr := range e.Attributes {
		existing.MergeAttribute(attr)
	}
}

// Merge merges every entry and reference of other into r.
func (r *SearchResult) Merge(other *SearchResult) {
	for _, e := range other.Entries() {
		r.MergeEntry(e)
	}
	r.references = append(r.references, other.references...)
}

// RemoveEntry removes the entries with the given DNs.
func (r *SearchResult) RemoveEntry(dns ...string) {
	for _, dn := range dns {
		key := entryKey(dn)
		if _, ok := r.entries[key]; !ok {
			continue
		}
		delete(r.entries, key)
		if r.sortBehavior == SortOrdered {
			r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == key })
		}
	}
}

// keys returns the entry keys in iteration order.
func (r *SearchResult) keys() []string {
	switch r.sortBehavior {
	case SortOrdered:
		return slices.Clone(r.order)
	case SortSorted:
		return slices.Sorted(maps.Keys(r.entries))
	default:
		return slices.Collect(maps.Keys(r.entries))
	}
}

// Entries returns the entries in the result's iteration order.
func (r *SearchResult) Entries() []*Entry {
	keys := r.keys()
	entries := make([]*Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, r.entries[k])
	}
	return entries
}

// Entry returns the first entry in iteration order, or nil.
func (r *SearchResult) Entry() *Entry {
	if len(r.entries) == 0 {
		return nil
	}
	if r.sortBehavior == SortUnordered {
		for _, e := range r.entries {
			return e
		}
	}
	return r.entries[r.keys()[0]]
}

// EntryByDN returns the entry with the given DN, compared case-insensitively.
func (r *SearchResult) EntryByDN(dn string) *Entry {
	return r.entries[entryKey(dn)]
}

// EntryDNs returns the DNs of the entries in iteration order.
func (r *SearchResult) EntryDNs() []string {
	entries := r.Entries()
	dns := make([]string, len(entries))
	for i, e := range entries {
		dns[i] = e.DN
	}
	return dns
}

// Size returns the number of entries.
func (r *SearchResult) Size() int {
	return len(r.entries)
}

// AddReference appends search references.
func (r *SearchResult) AddReference(refs ...*SearchReference) {
	for _, ref := range refs {
		if ref != nil {
			r.references = append(r.references, ref)
		}
	}
}

// References returns the search references.
func (r *SearchResult) References() []*SearchReference {
	return slices.Clone(r.references)
}

// Clear removes all entries and references.
func (r *SearchResult) Clear() {
	clear(r.entries)
	r.order = nil
	r.references = nil
}

// SubResult returns a result holding the entries in iteration positions
// [from, to).
func (r *SearchResult) SubResult(from, to int) (*SearchResult, error) {
	if from < 0 || to > len(r.entries) || from > to {
		return nil, fmt.Errorf("invalid sub result range [%d, %d) for %d entries", from, to, len(r.entries))
	}
	return NewSearchResult(r.sortBehavior, r.Entries()[from:to]...), nil
}

// Clone returns a deep copy of the result.
func (r *SearchResult) Clone() *SearchResult {
	c := &SearchResult{
		sortBehavior: r.sortBehavior,
		entries:      make(map[string]*Entry, len(r.entries)),
		order:        slices.Clone(r.order),
	}
	for k, e := range r.entries {
		c.entries[k] = e.Clone()
	}
	for _, ref := range r.references {
		c.references = append(c.references, &SearchReference{URLs: slices.Clone(ref.URLs)})
	}
	return c
}

func (r *SearchResult) String() string {
	return fmt.Sprintf("[entries=%d, references=%d, sort=%s]", len(r.entries), len(r.references), r.sortBehavior)
}

// MergeEntries folds every entry of result into its first entry by
// unioning attribute values. Binary attributes union as binary values. The
// returned result holds one entry, or none when result is empty.
func MergeEntries(result *SearchResult) *SearchResult {
	merged := NewSearchResult(result.sortBehavior)
	entries := result.Entries()
	if len(entries) == 0 {
		return merged
	}

	first := entries[0].Clone()
	for _, e := range entries[1:] {
		for _, attr := range e.Attributes {
			first.MergeAttribute(attr)
		}
	}
	merged.AddEntry(first)
	return merged
}
