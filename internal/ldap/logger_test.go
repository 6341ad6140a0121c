package ldap

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/terraform-plugin-log/tflogtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogContext(t *testing.T) (context.Context, *bytes.Buffer) {
	t.Helper()
	var output bytes.Buffer
	ctx := tflogtest.RootLogger(t.Context(), &output)
	return NewLoggingContext(ctx), &output
}

func decodeLogs(t *testing.T, output *bytes.Buffer) []map[string]any {
	t.Helper()
	entries, err := tflogtest.MultilineJSONDecode(output)
	require.NoError(t, err)
	return entries
}

func TestLogConnectionEvent(t *testing.T) {
	tests := []struct {
		event string
		level string
	}{
		{"connection_established", "info"},
		{"all_endpoints_failed", "error"},
		{"endpoint_failed", "debug"},
		{"connection_attempt", "trace"},
	}

	for _, tt := range tests {
		t.Run(tt.event, func(t *testing.T) {
			ctx, output := testLogContext(t)

			LogConnectionEvent(ctx, tt.event, map[string]any{"endpoint": "ldap://a"})

			entries := decodeLogs(t, output)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.level, entries[0]["@level"])
			assert.Equal(t, "Connection event", entries[0]["@message"])
			assert.Equal(t, tt.event, entries[0]["event"])
			assert.Equal(t, "ldap://a", entries[0]["endpoint"])
		})
	}
}

func TestLogPoolEvent(t *testing.T) {
	ctx, output := testLogContext(t)

	LogPoolEvent(ctx, "pool_exhausted", nil)
	LogPoolEvent(ctx, "checkout_failed", map[string]any{"error": "refused"})

	entries := decodeLogs(t, output)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["@level"])
	assert.Equal(t, "pool_exhausted", entries[0]["event"])
	assert.Equal(t, "error", entries[1]["@level"])
	assert.Equal(t, "refused", entries[1]["error"])
}

func TestLogLDAPError(t *testing.T) {
	ctx, output := testLogContext(t)

	opErr := &OperationError{
		Operation:  "delete",
		ResultCode: ResultNoSuchObject,
		MatchedDN:  "dc=example,dc=com",
		Message:    "no such entry",
	}
	LogLDAPError(ctx, SubsystemLDAP, "delete", opErr, nil)
	LogLDAPError(ctx, SubsystemLDAP, "open", NewConnectionError("ldap://b", "failed to open connection", errors.New("refused")), nil)

	entries := decodeLogs(t, output)
	require.Len(t, entries, 2)

	assert.Equal(t, "LDAP operation failed", entries[0]["@message"])
	assert.Equal(t, float64(ResultNoSuchObject), entries[0]["ldap_result_code"])
	assert.Equal(t, string(ErrorCategoryNotFound), entries[0]["error_category"])
	assert.Equal(t, "dc=example,dc=com", entries[0]["ldap_matched_dn"])
	assert.Equal(t, "no such entry", entries[0]["ldap_diagnostic_message"])

	assert.Equal(t, "ldap://b", entries[1]["endpoint"])
	assert.NotContains(t, entries[1], "ldap_result_code")
}

func TestLogOperation(t *testing.T) {
	ctx, output := testLogContext(t)

	require.NoError(t, LogOperation(ctx, SubsystemLDAP, "search", nil, func() error { return nil }))
	errFailed := errors.New("failed")
	assert.ErrorIs(t, LogOperation(ctx, SubsystemLDAP, "delete", map[string]any{"dn": "cn=a"}, func() error { return errFailed }), errFailed)

	entries := decodeLogs(t, output)
	require.Len(t, entries, 4)
	assert.Equal(t, "Starting operation", entries[0]["@message"])
	assert.Equal(t, "Operation completed successfully", entries[1]["@message"])
	assert.Contains(t, entries[1], "duration_ms")
	assert.Equal(t, "Operation failed", entries[3]["@message"])
	assert.Equal(t, "failed", entries[3]["error"])
	assert.Equal(t, "cn=a", entries[3]["dn"])
}

func TestSanitizeFields(t *testing.T) {
	fields := map[string]any{
		"bind_dn":  "cn=admin,dc=example,dc=com",
		"password": "hunter2",
		"error":    "bind failed: password=hunter2",
		"count":    3,
	}

	sanitized := SanitizeFields(fields)

	assert.Equal(t, map[string]any{
		"bind_dn":  "cn=admin,dc=example,dc=com",
		"password": "[REDACTED]",
		"error":    "[REDACTED]",
		"count":    3,
	}, sanitized)
	assert.Equal(t, "hunter2", fields["password"], "input is not modified")
}

func TestLogResponseHandler(t *testing.T) {
	ctx, output := testLogContext(t)
	conn := &Connection{endpoint: "ldap://a"}
	req := &DeleteRequest{DN: "cn=a,dc=example,dc=com"}

	LogResponseHandler[*DeleteRequest, Void]{}.Handle(ctx, conn, req, NewResponse(Void{}, ResponseMeta{ResultCode: ResultSuccess}))
	LogResponseHandler[*DeleteRequest, Void]{}.Handle(ctx, conn, req, newCachedResponse(Void{}))

	entries := decodeLogs(t, output)
	require.Len(t, entries, 2)
	assert.Equal(t, "Operation response", entries[0]["@message"])
	assert.Equal(t, "ldap://a", entries[0]["endpoint"])
	assert.Equal(t, float64(0), entries[0]["result_code"])
	assert.NotEmpty(t, entries[0]["correlation_id"])
	assert.NotContains(t, entries[1], "result_code")
}
