// Package ad provides Active Directory search entry handlers that decode
// binary security identifiers and object GUIDs into their string forms.
package ad

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bwmarrin/go-objectsid"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// AttributeObjectSID is the attribute holding an object's security identifier.
const AttributeObjectSID = "objectSid"

// sidHeaderLength is the revision, sub-authority count and 48-bit authority.
const sidHeaderLength = 8

// DecodeSID converts a binary SID to its S-1-5-21-... string form.
func DecodeSID(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("binary SID cannot be empty")
	}
	if len(b) < sidHeaderLength {
		return "", fmt.Errorf("binary SID too short: %d bytes", len(b))
	}
	if want := sidHeaderLength + 4*int(b[1]); len(b) != want {
		return "", fmt.Errorf("invalid binary SID length: expected %d bytes for %d sub-authorities, got %d", want, b[1], len(b))
	}
	return objectsid.Decode(b).String(), nil
}

// RelativeID returns the last sub-authority of a binary SID.
func RelativeID(b []byte) (int, error) {
	if _, err := DecodeSID(b); err != nil {
		return 0, err
	}
	if b[1] == 0 {
		return 0, fmt.Errorf("SID has no sub-authorities")
	}
	return int(binary.LittleEndian.Uint32(b[len(b)-4:])), nil
}

// ValidateSIDString validates that a string is a properly formatted SID.
func ValidateSIDString(sid string) error {
	if sid == "" {
		return fmt.Errorf("SID string cannot be empty")
	}
	if len(sid) < 5 || !strings.HasPrefix(sid, "S-") {
		return fmt.Errorf("invalid SID format: must start with 'S-'")
	}
	return nil
}

// IsWellKnownSID reports whether sid belongs to a well-known authority or
// service account.
func IsWellKnownSID(sid string) bool {
	wellKnownPrefixes := []string{
		"S-1-0",    // Null Authority
		"S-1-1",    // World Authority
		"S-1-2",    // Local Authority
		"S-1-3",    // Creator Authority
		"S-1-4",    // Non-unique Authority
		"S-1-5-18", // Local System
		"S-1-5-19", // Local Service
		"S-1-5-20", // Network Service
	}
	for _, prefix := range wellKnownPrefixes {
		if sid == prefix || strings.HasPrefix(sid, prefix+"-") {
			return true
		}
	}
	return false
}

// ObjectSIDHandler replaces binary objectSid values with their string form.
// The attribute must be requested as a binary attribute.
type ObjectSIDHandler struct{}

func (ObjectSIDHandler) HandleEntry(_ context.Context, _ *ldapclient.SearchRequest, entry *ldapclient.Entry) (ldapclient.HandlerResult[*ldapclient.Entry], error) {
	out, err := decodeBinaryAttribute(entry, AttributeObjectSID, DecodeSID)
	if err != nil {
		return ldapclient.HandlerResult[*ldapclient.Entry]{}, err
	}
	return ldapclient.HandlerResult[*ldapclient.Entry]{Result: out}, nil
}

// decodeBinaryAttribute returns a copy of entry whose binary attribute name
// is replaced by a string attribute of decoded values. Entries without a
// binary value for name are returned unchanged.
func decodeBinaryAttribute(entry *ldapclient.Entry, name string, decode func([]byte) (string, error)) (*ldapclient.Entry, error) {
	attr := entry.Attribute(name)
	if attr == nil || !attr.Binary {
		return entry, nil
	}

	values := make([]string, 0, len(attr.ByteValues))
	for _, b := range attr.ByteValues {
		v, err := decode(b)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s of %s: %w", name, entry.DN, err)
		}
		values = append(values, v)
	}

	out := entry.Clone()
	out.AddAttribute(ldapclient.NewAttribute(attr.Name, values...))
	return out, nil
}
