package ldap

import (
	"bytes"
	"slices"
	"strings"
)

// Void is the payload of responses to operations that return no data.
type Void struct{}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns string representation of the search scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// String returns string representation of the dereference policy.
func (d DerefAliases) String() string {
	switch d {
	case NeverDerefAliases:
		return "never"
	case DerefInSearching:
		return "searching"
	case DerefFindingBaseObj:
		return "finding"
	case DerefAlways:
		return "always"
	default:
		return "unknown"
	}
}

// ReferralBehavior controls what a search does with continuation references.
type ReferralBehavior int

const (
	ReferralKeep   ReferralBehavior = iota // References are added to the search result
	ReferralIgnore                         // References are dropped
	ReferralFollow                         // Following referrals is not supported and fails the search
	ReferralThrow                          // A reference fails the search with a referral result code
)

// String returns string representation of the referral behavior.
func (r ReferralBehavior) String() string {
	switch r {
	case ReferralKeep:
		return "keep"
	case ReferralIgnore:
		return "ignore"
	case ReferralFollow:
		return "follow"
	case ReferralThrow:
		return "throw"
	default:
		return "unknown"
	}
}

// SortBehavior selects the ordering discipline of a SearchResult.
type SortBehavior int

const (
	SortUnordered SortBehavior = iota // No iteration guarantee
	SortOrdered                       // Arrival order
	SortSorted                        // Case-insensitive DN order
)

// String returns string representation of the sort behavior.
func (s SortBehavior) String() string {
	switch s {
	case SortUnordered:
		return "unordered"
	case SortOrdered:
		return "ordered"
	case SortSorted:
		return "sorted"
	default:
		return "unknown"
	}
}

// ParseSortBehavior parses the names returned by SortBehavior.String.
func ParseSortBehavior(s string) (SortBehavior, bool) {
	for _, sb := range []SortBehavior{SortUnordered, SortOrdered, SortSorted} {
		if strings.EqualFold(sb.String(), s) {
			return sb, true
		}
	}
	return SortUnordered, false
}

// Attribute is a named, multi-valued entry attribute. Binary attributes hold
// their values in ByteValues, all others in Values.
type Attribute struct {
	Name       string
	Values     []string
	ByteValues [][]byte
	Binary     bool
}

// NewAttribute creates a string-valued attribute.
func NewAttribute(name string, values ...string) *Attribute {
	return &Attribute{Name: name, Values: values}
}

// NewBinaryAttribute creates a binary attribute.
func NewBinaryAttribute(name string, values ...[]byte) *Attribute {
	return &Attribute{Name: name, ByteValues: values, Binary: true}
}

// Size returns the number of values held by the attribute.
func (a *Attribute) Size() int {
	if a.Binary {
		return len(a.ByteValues)
	}
	return len(a.Values)
}

// AddValues adds string values that are not already present.
func (a *Attribute) AddValues(values ...string) {
	for _, v := range values {
		if !slices.Contains(a.Values, v) {
			a.Values = append(a.Values, v)
		}
	}
}

// AddByteValues adds binary values that are not already present.
func (a *Attribute) AddByteValues(values ...[]byte) {
	for _, v := range values {
		if !slices.ContainsFunc(a.ByteValues, func(b []byte) bool { return bytes.Equal(b, v) }) {
			a.ByteValues = append(a.ByteValues, v)
		}
	}
}

// byteValues returns the values of a in their binary form.
func (a *Attribute) byteValues() [][]byte {
	if a.Binary {
		return a.ByteValues
	}
	out := make([][]byte, 0, len(a.Values))
	for _, v := range a.Values {
		out = append(out, []byte(v))
	}
	return out
}

// stringValues returns the values of a in their string form.
func (a *Attribute) stringValues() []string {
	if !a.Binary {
		return a.Values
	}
	out := make([]string, 0, len(a.ByteValues))
	for _, b := range a.ByteValues {
		out = append(out, string(b))
	}
	return out
}

func (a *Attribute) clone() *Attribute {
	c := &Attribute{Name: a.Name, Binary: a.Binary, Values: slices.Clone(a.Values)}
	for _, b := range a.ByteValues {
		c.ByteValues = append(c.ByteValues, bytes.Clone(b))
	}
	return c
}

// Entry is a directory entry returned by a search.
type Entry struct {
	DN         string
	Attributes []*Attribute
}

// NewEntry creates an entry with the supplied attributes.
func NewEntry(dn string, attrs ...*Attribute) *Entry {
	return &Entry{DN: dn, Attributes: attrs}
}

// Attribute returns the attribute with the given name, compared case-insensitively.
func (e *Entry) Attribute(name string) *Attribute {
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

// GetAttributeValue returns the first string value of the named attribute.
func (e *Entry) GetAttributeValue(name string) string {
	a := e.Attribute(name)
	if a == nil || len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

// GetAttributeValues returns the string values of the named attribute.
func (e *Entry) GetAttributeValues(name string) []string {
	a := e.Attribute(name)
	if a == nil {
		return nil
	}
	return a.Values
}

// GetRawAttributeValue returns the first binary value of the named attribute.
func (e *Entry) GetRawAttributeValue(name string) []byte {
	a := e.Attribute(name)
	if a == nil || len(a.ByteValues) == 0 {
		return nil
	}
	return a.ByteValues[0]
}

// AddAttribute adds attributes, replacing any existing attribute with the same name.
func (e *Entry) AddAttribute(attrs ...*Attribute) {
	for _, attr := range attrs {
		idx := slices.IndexFunc(e.Attributes, func(a *Attribute) bool { return strings.EqualFold(a.Name, attr.Name) })
		if idx >= 0 {
			e.Attributes[idx] = attr
			continue
		}
		e.Attributes = append(e.Attributes, attr)
	}
}

// MergeAttribute unions the values of attr into the attribute of the same
// name, adding it when the entry does not carry it yet.
func (e *Entry) MergeAttribute(attr *Attribute) {
	existing := e.Attribute(attr.Name)
	if existing == nil {
		e.Attributes = append(e.Attributes, attr.clone())
		return
	}
	if existing.Binary {
		existing.AddByteValues(attr.byteValues()...)
		return
	}
	existing.AddValues(attr.stringValues()...)
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := &Entry{DN: e.DN, Attributes: make([]*Attribute, 0, len(e.Attributes))}
	for _, a := range e.Attributes {
		c.Attributes = append(c.Attributes, a.clone())
	}
	return c
}

// SearchReference is a continuation reference returned by a search.
type SearchReference struct {
	URLs []string
}

// IntermediateResponse is an intermediate response message returned during a search.
type IntermediateResponse struct {
	OID   string
	Value []byte
}
