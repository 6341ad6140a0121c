package ldap

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDNCase rewrites the attribute type descriptors of a DN in upper
// case, leaving values untouched and escaping them per RFC 4514.
//
//	"cn=Doe\, John,ou=users,dc=example,dc=com" -> "CN=Doe\, John,OU=users,DC=example,DC=com"
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}
	return strings.Join(rdns, ","), nil
}

// ValidateDNSyntax validates that a string is a properly formatted Distinguished Name.
func ValidateDNSyntax(dn string) error {
	if dn == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}
	return nil
}

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var b strings.Builder
	b.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '#':
			if i == 0 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				b.WriteRune('\\')
			}
			b.WriteRune(r)
		case 0:
			b.WriteString("\\00")
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// DNNormalizeHandler rewrites entry DNs with NormalizeDNCase. Entries whose
// DN does not parse are passed through unchanged.
type DNNormalizeHandler struct{}

func (DNNormalizeHandler) HandleEntry(ctx context.Context, _ *SearchRequest, entry *Entry) (HandlerResult[*Entry], error) {
	normalized, err := NormalizeDNCase(entry.DN)
	if err != nil {
		LogLDAPError(ctx, SubsystemLDAP, "normalize_dn", err, map[string]any{"dn": entry.DN})
		return HandlerResult[*Entry]{Result: entry}, nil
	}
	out := entry.Clone()
	out.DN = normalized
	return HandlerResult[*Entry]{Result: out}, nil
}
