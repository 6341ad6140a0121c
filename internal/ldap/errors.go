package ldap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrConnectionNotOpen = errors.New("connection not open")
	ErrPoolClosed        = errors.New("connection pool closed")
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrNilRequest        = errors.New("request cannot be nil")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryConflict       ErrorCategory = "conflict"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// ConnectionError is returned when no candidate endpoint could be opened.
// It wraps the failure of the last endpoint tried and is never retried.
type ConnectionError struct {
	Endpoint string
	message  string
	cause    error
}

// NewConnectionError creates a new connection error.
func NewConnectionError(endpoint, message string, cause error) *ConnectionError {
	return &ConnectionError{Endpoint: endpoint, message: message, cause: cause}
}

func (e *ConnectionError) Error() string {
	msg := e.message
	if e.Endpoint != "" {
		msg = fmt.Sprintf("%s (last endpoint %s)", msg, e.Endpoint)
	}
	if e.cause != nil {
		return msg + ": " + e.cause.Error()
	}
	return msg
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// OperationError is raised by a provider when an operation fails on an open
// connection. The execution engine treats every OperationError as retryable.
type OperationError struct {
	Operation    string
	ResultCode   ResultCode
	MatchedDN    string
	Message      string
	Controls     []ResponseControl
	ReferralURLs []string
	Cause        error
}

// NewOperationError creates an operation error for the given result code.
func NewOperationError(operation string, code ResultCode, message string, cause error) *OperationError {
	return &OperationError{Operation: operation, ResultCode: code, Message: message, Cause: cause}
}

func (e *OperationError) Error() string {
	var parts []string

	if e.ResultCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.ResultCode))
		parts = append(parts, e.ResultCode.String())
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" && e.Message != e.ResultCode.String() {
		parts = append(parts, fmt.Sprintf("server: %s", e.Message))
	}

	if e.MatchedDN != "" {
		parts = append(parts, fmt.Sprintf("matched DN: %s", e.MatchedDN))
	}

	if e.Cause != nil && e.Message == "" {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " - ")
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// Category returns the error category of the result code.
func (e *OperationError) Category() ErrorCategory {
	return categorizeResultCode(e.ResultCode)
}

// UnsupportedControlError is returned when a control has no registered handler.
type UnsupportedControlError struct {
	OID      string
	Response bool
}

func (e *UnsupportedControlError) Error() string {
	if e.Response {
		return fmt.Sprintf("unsupported response control: %s", e.OID)
	}
	return fmt.Sprintf("unsupported request control: %s", e.OID)
}

// categorizeResultCode categorizes an error based on its result code.
func categorizeResultCode(code ResultCode) ErrorCategory {
	switch code {
	case ResultInvalidCredentials,
		ResultInappropriateAuthentication,
		ResultStrongAuthRequired:
		return ErrorCategoryAuthentication

	case ResultInsufficientAccessRights,
		ResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ResultNoSuchObject,
		ResultNoSuchAttribute,
		ResultUndefinedAttributeType:
		return ErrorCategoryNotFound

	case ResultEntryAlreadyExists,
		ResultAttributeOrValueExists,
		ResultObjectClassViolation,
		ResultNotAllowedOnNonLeaf:
		return ErrorCategoryConflict

	case ResultInvalidAttributeSyntax,
		ResultConstraintViolation,
		ResultInvalidDNSyntax,
		ResultNamingViolation,
		ResultFilterError:
		return ErrorCategoryValidation

	case ResultServerDown,
		ResultUnavailable,
		ResultBusy,
		ResultTimeLimitExceeded,
		ResultAdminLimitExceeded:
		return ErrorCategoryServer

	case ResultConnectError,
		ResultProtocolError:
		return ErrorCategoryConnection

	default:
		return ErrorCategoryUnknown
	}
}

// categorizeGenericError categorizes errors that carry no result code.
func categorizeGenericError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "broken pipe") {
		return ErrorCategoryConnection
	}

	if strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "credentials") ||
		strings.Contains(errStr, "password") {
		return ErrorCategoryAuthentication
	}

	if strings.Contains(errStr, "permission") ||
		strings.Contains(errStr, "denied") {
		return ErrorCategoryPermission
	}

	return ErrorCategoryUnknown
}

// resultCodeMessage returns a human-readable message for a result code.
func resultCodeMessage(code ResultCode) string {
	switch code {
	case ResultSuccess:
		return "Operation completed successfully"
	case ResultOperationsError:
		return "LDAP operations error"
	case ResultProtocolError:
		return "LDAP protocol error"
	case ResultTimeLimitExceeded:
		return "LDAP time limit exceeded"
	case ResultSizeLimitExceeded:
		return "LDAP size limit exceeded"
	case ResultCompareFalse:
		return "LDAP compare returned false"
	case ResultCompareTrue:
		return "LDAP compare returned true"
	case ResultAuthMethodNotSupported:
		return "Authentication method not supported"
	case ResultStrongAuthRequired:
		return "Strong authentication required"
	case ResultReferral:
		return "LDAP referral"
	case ResultAdminLimitExceeded:
		return "Administrative limit exceeded"
	case ResultUnavailableCriticalExtension:
		return "Critical extension unavailable"
	case ResultConfidentialityRequired:
		return "Confidentiality required"
	case ResultSaslBindInProgress:
		return "SASL bind in progress"
	case ResultNoSuchAttribute:
		return "Requested attribute does not exist"
	case ResultUndefinedAttributeType:
		return "Attribute type is not defined"
	case ResultInappropriateMatching:
		return "Inappropriate matching rule"
	case ResultConstraintViolation:
		return "Constraint violation"
	case ResultAttributeOrValueExists:
		return "Attribute or value already exists"
	case ResultInvalidAttributeSyntax:
		return "Invalid attribute syntax"
	case ResultNoSuchObject:
		return "Requested object does not exist"
	case ResultAliasProblem:
		return "Alias problem"
	case ResultInvalidDNSyntax:
		return "Invalid DN syntax"
	case ResultAliasDereferencingProblem:
		return "Alias dereferencing problem"
	case ResultInappropriateAuthentication:
		return "Inappropriate authentication method"
	case ResultInvalidCredentials:
		return "Invalid credentials"
	case ResultInsufficientAccessRights:
		return "Insufficient access rights"
	case ResultBusy:
		return "Server is busy"
	case ResultUnavailable:
		return "Server is unavailable"
	case ResultUnwillingToPerform:
		return "Server is unwilling to perform the operation"
	case ResultLoopDetect:
		return "Loop detected"
	case ResultNamingViolation:
		return "Naming violation"
	case ResultObjectClassViolation:
		return "Object class violation"
	case ResultNotAllowedOnNonLeaf:
		return "Operation not allowed on non-leaf entry"
	case ResultNotAllowedOnRDN:
		return "Operation not allowed on RDN"
	case ResultEntryAlreadyExists:
		return "Entry already exists"
	case ResultObjectClassModsProhibited:
		return "Object class modifications prohibited"
	case ResultAffectsMultipleDSAs:
		return "Operation affects multiple DSAs"
	case ResultOther:
		return "Other error"
	case ResultServerDown:
		return "Server is down"
	case ResultLocalError:
		return "Local error occurred"
	case ResultEncodingError:
		return "Encoding error"
	case ResultDecodingError:
		return "Decoding error"
	case ResultTimeout:
		return "Operation timed out"
	case ResultAuthUnknown:
		return "Unknown authentication method"
	case ResultFilterError:
		return "Invalid search filter"
	case ResultUserCanceled:
		return "User canceled operation"
	case ResultParamError:
		return "Parameter error"
	case ResultNoMemory:
		return "Out of memory"
	case ResultConnectError:
		return "Connection error"
	case ResultNotSupported:
		return "Operation not supported"
	case ResultControlNotFound:
		return "Control not found"
	case ResultNoResultsReturned:
		return "No results returned"
	case ResultMoreResultsToReturn:
		return "More results available"
	case ResultClientLoop:
		return "Client loop detected"
	case ResultReferralLimitExceeded:
		return "Referral limit exceeded"
	default:
		return fmt.Sprintf("Unknown LDAP error (code %d)", code)
	}
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category()
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ErrorCategoryConnection
	}

	return categorizeGenericError(err)
}

// IsNotFoundError checks if an error indicates a "not found" condition.
func IsNotFoundError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryNotFound
}

// IsConflictError checks if an error indicates a conflict (already exists).
func IsConflictError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryConflict
}

// IsAuthenticationError checks if an error indicates an authentication problem.
func IsAuthenticationError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryAuthentication
}

// IsPermissionError checks if an error indicates a permission problem.
func IsPermissionError(err error) bool {
	return GetErrorCategory(err) == ErrorCategoryPermission
}
