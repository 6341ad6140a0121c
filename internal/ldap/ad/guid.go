package ad

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// AttributeObjectGUID is the attribute holding an object's GUID.
const AttributeObjectGUID = "objectGUID"

// GUIDBytesLength is the length of a binary GUID.
const GUIDBytesLength = 16

// swapGUIDBytes converts between the Active Directory mixed-endian layout
// and RFC 4122 byte order. The first three fields are little-endian in
// Active Directory; the last eight bytes are unchanged. The conversion is
// its own inverse.
func swapGUIDBytes(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// DecodeGUID converts a binary objectGUID to its canonical lower-case
// hyphenated form.
func DecodeGUID(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}
	id, err := uuid.FromBytes(swapGUIDBytes(b))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// EncodeGUID converts a GUID string, hyphenated, braced or compact, to the
// Active Directory binary layout.
func EncodeGUID(guid string) ([]byte, error) {
	id, err := ParseGUID(guid)
	if err != nil {
		return nil, err
	}
	return swapGUIDBytes(id[:]), nil
}

// ParseGUID parses a GUID string in any format accepted by uuid.Parse.
func ParseGUID(guid string) (uuid.UUID, error) {
	guid = strings.TrimSpace(guid)
	if guid == "" {
		return uuid.Nil, fmt.Errorf("GUID string cannot be empty")
	}
	id, err := uuid.Parse(guid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid GUID format: %s", guid)
	}
	return id, nil
}

// NormalizeGUID returns the canonical lower-case hyphenated form of guid.
func NormalizeGUID(guid string) (string, error) {
	id, err := ParseGUID(guid)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// GUIDSearchFilter returns an equality filter matching objectGUID, with
// every byte hex escaped.
func GUIDSearchFilter(guid string) (string, error) {
	b, err := EncodeGUID(guid)
	if err != nil {
		return "", fmt.Errorf("failed to convert GUID to bytes: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("(" + AttributeObjectGUID + "=")
	for _, c := range b {
		fmt.Fprintf(&sb, "\\%02x", c)
	}
	sb.WriteString(")")
	return sb.String(), nil
}

// NewGUIDSearchRequest creates a search for the single object with guid
// below baseDN. The objectGUID attribute is requested in binary form.
func NewGUIDSearchRequest(baseDN, guid string) (*ldapclient.SearchRequest, error) {
	filter, err := GUIDSearchFilter(guid)
	if err != nil {
		return nil, fmt.Errorf("failed to create GUID search filter: %w", err)
	}

	req := ldapclient.NewSearchRequest(baseDN, filter, AttributeObjectGUID, "distinguishedName", "objectClass")
	req.SizeLimit = 1
	req.BinaryAttributes = []string{AttributeObjectGUID}
	return req, nil
}

// ObjectGUIDHandler replaces binary objectGUID values with their string
// form. The attribute must be requested as a binary attribute.
type ObjectGUIDHandler struct{}

func (ObjectGUIDHandler) HandleEntry(_ context.Context, _ *ldapclient.SearchRequest, entry *ldapclient.Entry) (ldapclient.HandlerResult[*ldapclient.Entry], error) {
	out, err := decodeBinaryAttribute(entry, AttributeObjectGUID, DecodeGUID)
	if err != nil {
		return ldapclient.HandlerResult[*ldapclient.Entry]{}, err
	}
	return ldapclient.HandlerResult[*ldapclient.Entry]{Result: out}, nil
}
