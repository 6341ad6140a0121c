package ldap

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Logging subsystems.
const (
	SubsystemLDAP     = "ldap"
	SubsystemPool     = "pool"
	SubsystemKerberos = "kerberos"
)

// NewLoggingContext registers the runtime's logging subsystems on ctx. Levels
// are read from DIRCLIENT_LOG_LDAP, DIRCLIENT_LOG_POOL and DIRCLIENT_LOG_KERBEROS.
func NewLoggingContext(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, SubsystemLDAP,
		tflog.WithLevelFromEnv("DIRCLIENT_LOG_LDAP"))
	ctx = tflog.NewSubsystem(ctx, SubsystemPool,
		tflog.WithLevelFromEnv("DIRCLIENT_LOG_POOL"))
	ctx = tflog.NewSubsystem(ctx, SubsystemKerberos,
		tflog.WithLevelFromEnv("DIRCLIENT_LOG_KERBEROS"))
	return ctx
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		fields["error"] = err.Error()
		tflog.SubsystemError(ctx, subsystem, "Operation failed", fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()

	var opErr *OperationError
	if errors.As(err, &opErr) {
		fields["ldap_result_code"] = int(opErr.ResultCode)
		fields["error_category"] = string(opErr.Category())
		if opErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = opErr.MatchedDN
		}
		if opErr.Message != "" {
			fields["ldap_diagnostic_message"] = opErr.Message
		}
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) && connErr.Endpoint != "" {
		fields["endpoint"] = connErr.Endpoint
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success":
		tflog.SubsystemInfo(ctx, SubsystemLDAP, "Connection event", fields)
	case "all_endpoints_failed", "authentication_failed":
		tflog.SubsystemError(ctx, SubsystemLDAP, "Connection event", fields)
	case "endpoint_failed", "connection_closed", "reconnect":
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "Connection event", fields)
	default:
		tflog.SubsystemTrace(ctx, SubsystemLDAP, "Connection event", fields)
	}
}

// LogKerberosEvent logs Kerberos-specific events.
func LogKerberosEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "ticket_acquired", "keytab_loaded", "credentials_cached":
		tflog.SubsystemInfo(ctx, SubsystemKerberos, "Kerberos event", fields)
	case "ticket_acquisition_failed", "keytab_load_failed", "authentication_failed":
		tflog.SubsystemError(ctx, SubsystemKerberos, "Kerberos event", fields)
	case "principal_resolved":
		tflog.SubsystemDebug(ctx, SubsystemKerberos, "Kerberos event", fields)
	default:
		tflog.SubsystemTrace(ctx, SubsystemKerberos, "Kerberos event", fields)
	}
}

// LogPoolEvent logs connection pool events.
func LogPoolEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "pool_initialized", "connection_acquired", "connection_released", "connection_expired":
		tflog.SubsystemDebug(ctx, SubsystemPool, "Pool event", fields)
	case "pool_exhausted", "connection_failed":
		tflog.SubsystemWarn(ctx, SubsystemPool, "Pool event", fields)
	case "checkout_failed":
		tflog.SubsystemError(ctx, SubsystemPool, "Pool event", fields)
	default:
		tflog.SubsystemTrace(ctx, SubsystemPool, "Pool event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any)

	sensitiveKeys := map[string]bool{
		"password":      true,
		"passwd":        true,
		"bind_password": true,
		"secret":        true,
		"token":         true,
		"key":           true,
		"credential":    true,
		"credentials":   true,
	}

	for k, v := range fields {
		if sensitiveKeys[k] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}
