package ldap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// SearchFilter is a filter template whose {name} placeholders are replaced
// by escaped parameter values. Positional parameters use their index as the
// name, so "(&(uid={0})(mail={1}))" takes two of them.
type SearchFilter struct {
	Filter string
	Params map[string]any
}

// NewSearchFilter creates a filter with positional parameters.
func NewSearchFilter(filter string, params ...any) SearchFilter {
	f := SearchFilter{Filter: filter}
	for i, p := range params {
		f.SetParam(strconv.Itoa(i), p)
	}
	return f
}

// SetParam sets the value of the named placeholder.
func (f *SearchFilter) SetParam(name string, value any) {
	if f.Params == nil {
		f.Params = make(map[string]any)
	}
	f.Params[name] = value
}

// Format returns the filter with every placeholder that has a non-nil
// parameter replaced by its encoded value. Other placeholders are left as
// written. Values are substituted in a single pass, so braces inside a
// value are never expanded.
func (f SearchFilter) Format() string {
	if len(f.Params) == 0 {
		return f.Filter
	}

	var b strings.Builder
	b.Grow(len(f.Filter))
	rest := f.Filter
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			break
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			break
		}
		end += open
		b.WriteString(rest[:open])
		if v, ok := f.Params[rest[open+1:end]]; ok && v != nil {
			b.WriteString(EncodeFilterValue(v))
		} else {
			b.WriteString(rest[open : end+1])
		}
		rest = rest[end+1:]
	}
	b.WriteString(rest)
	return b.String()
}

func (f SearchFilter) String() string {
	return f.Format()
}

// EncodeFilterValue encodes v for use as an assertion value. Byte slices are
// written as \XX hex escapes. Everything else is formatted with %v and
// escaped per RFC 4515.
func EncodeFilterValue(v any) string {
	switch v := v.(type) {
	case []byte:
		var b strings.Builder
		b.Grow(len(v) * 3)
		for _, c := range v {
			fmt.Fprintf(&b, "\\%02X", c)
		}
		return b.String()
	case string:
		return ldap.EscapeFilter(v)
	default:
		return ldap.EscapeFilter(fmt.Sprint(v))
	}
}

// Filters converts raw filter strings into filters without parameters.
func Filters(filters ...string) []SearchFilter {
	out := make([]SearchFilter, len(filters))
	for i, f := range filters {
		out[i] = SearchFilter{Filter: f}
	}
	return out
}
