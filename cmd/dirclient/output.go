package main

import (
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	ldapclient "github.com/isometry/dirclient/internal/ldap"
)

// writeResponse prints the entries of resp as LDIF records, followed by any
// continuation references as comments.
func writeResponse(w io.Writer, resp *ldapclient.Response[*ldapclient.SearchResult]) error {
	result := resp.Result()
	for _, entry := range result.Entries() {
		if err := writeEntry(w, entry); err != nil {
			return err
		}
	}
	for _, ref := range result.References() {
		if _, err := fmt.Fprintf(w, "# refldap: %s\n\n", strings.Join(ref.URLs, " ")); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(w io.Writer, entry *ldapclient.Entry) error {
	if err := writeLine(w, "dn", entry.DN); err != nil {
		return err
	}
	for _, attr := range entry.Attributes {
		if attr.Binary {
			for _, b := range attr.ByteValues {
				if _, err := fmt.Fprintf(w, "%s:: %s\n", attr.Name, base64.StdEncoding.EncodeToString(b)); err != nil {
					return err
				}
			}
			continue
		}
		for _, v := range attr.Values {
			if err := writeLine(w, attr.Name, v); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w)
	return err
}

// writeLine prints one LDIF attribute line, base64 encoding values that are
// not safe strings.
func writeLine(w io.Writer, name, value string) error {
	if safeString(value) {
		_, err := fmt.Fprintf(w, "%s: %s\n", name, value)
		return err
	}
	_, err := fmt.Fprintf(w, "%s:: %s\n", name, base64.StdEncoding.EncodeToString([]byte(value)))
	return err
}

func safeString(s string) bool {
	if s == "" {
		return true
	}
	if !utf8.ValidString(s) || strings.ContainsAny(s, "\x00\r\n") {
		return false
	}
	switch s[0] {
	case ' ', ':', '<':
		return false
	}
	return !strings.HasSuffix(s, " ")
}
