package ldap

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// ResultCode is a directory protocol result code.
type ResultCode int

const (
	ResultSuccess                      ResultCode = 0
	ResultOperationsError              ResultCode = 1
	ResultProtocolError                ResultCode = 2
	ResultTimeLimitExceeded            ResultCode = 3
	ResultSizeLimitExceeded            ResultCode = 4
	ResultCompareFalse                 ResultCode = 5
	ResultCompareTrue                  ResultCode = 6
	ResultAuthMethodNotSupported       ResultCode = 7
	ResultStrongAuthRequired           ResultCode = 8
	ResultReferral                     ResultCode = 10
	ResultAdminLimitExceeded           ResultCode = 11
	ResultUnavailableCriticalExtension ResultCode = 12
	ResultConfidentialityRequired      ResultCode = 13
	ResultSaslBindInProgress           ResultCode = 14
	ResultNoSuchAttribute              ResultCode = 16
	ResultUndefinedAttributeType       ResultCode = 17
	ResultInappropriateMatching        ResultCode = 18
	ResultConstraintViolation          ResultCode = 19
	ResultAttributeOrValueExists       ResultCode = 20
	ResultInvalidAttributeSyntax       ResultCode = 21
	ResultNoSuchObject                 ResultCode = 32
	ResultAliasProblem                 ResultCode = 33
	ResultInvalidDNSyntax              ResultCode = 34
	ResultAliasDereferencingProblem    ResultCode = 36
	ResultInappropriateAuthentication  ResultCode = 48
	ResultInvalidCredentials           ResultCode = 49
	ResultInsufficientAccessRights     ResultCode = 50
	ResultBusy                         ResultCode = 51
	ResultUnavailable                  ResultCode = 52
	ResultUnwillingToPerform           ResultCode = 53
	ResultLoopDetect                   ResultCode = 54
	ResultNamingViolation              ResultCode = 64
	ResultObjectClassViolation         ResultCode = 65
	ResultNotAllowedOnNonLeaf          ResultCode = 66
	ResultNotAllowedOnRDN              ResultCode = 67
	ResultEntryAlreadyExists           ResultCode = 68
	ResultObjectClassModsProhibited    ResultCode = 69
	ResultAffectsMultipleDSAs          ResultCode = 71
	ResultOther                        ResultCode = 80
	ResultServerDown                   ResultCode = 81
	ResultLocalError                   ResultCode = 82
	ResultEncodingError                ResultCode = 83
	ResultDecodingError                ResultCode = 84
	ResultTimeout                      ResultCode = 85
	ResultAuthUnknown                  ResultCode = 86
	ResultFilterError                  ResultCode = 87
	ResultUserCanceled                 ResultCode = 88
	ResultParamError                   ResultCode = 89
	ResultNoMemory                     ResultCode = 90
	ResultConnectError                 ResultCode = 91
	ResultNotSupported                 ResultCode = 92
	ResultControlNotFound              ResultCode = 93
	ResultNoResultsReturned            ResultCode = 94
	ResultMoreResultsToReturn          ResultCode = 95
	ResultClientLoop                   ResultCode = 96
	ResultReferralLimitExceeded        ResultCode = 97
)

// String returns the human-readable description of the result code.
func (c ResultCode) String() string {
	return resultCodeMessage(c)
}

// ResponseMeta carries the protocol metadata of a Response.
type ResponseMeta struct {
	ResultCode   ResultCode
	Message      string
	MatchedDN    string
	Controls     []ResponseControl
	ReferralURLs []string
	MessageID    int
}

// Response is the result of one operation attempt. It is immutable once
// constructed; accessors return copies of slice fields.
type Response[T any] struct {
	result        T
	hasResultCode bool
	meta          ResponseMeta
	correlationID string
}

// NewResponse creates a response carrying protocol metadata.
func NewResponse[T any](result T, meta ResponseMeta) *Response[T] {
	meta.Controls = slices.Clone(meta.Controls)
	meta.ReferralURLs = slices.Clone(meta.ReferralURLs)
	return &Response[T]{
		result:        result,
		hasResultCode: true,
		meta:          meta,
		correlationID: uuid.NewString(),
	}
}

// newCachedResponse wraps a result served from a cache. Cached responses
// carry no result code or diagnostics.
func newCachedResponse[T any](result T) *Response[T] {
	return &Response[T]{result: result, correlationID: uuid.NewString()}
}

// withResult returns a copy of r carrying a different payload.
func withResult[T, U any](r *Response[T], result U) *Response[U] {
	return &Response[U]{
		result:        result,
		hasResultCode: r.hasResultCode,
		meta:          r.meta,
		correlationID: r.correlationID,
	}
}

// Result returns the response payload.
func (r *Response[T]) Result() T { return r.result }

// HasResultCode reports whether the response was produced by the server.
func (r *Response[T]) HasResultCode() bool { return r.hasResultCode }

// ResultCode returns the protocol result code.
func (r *Response[T]) ResultCode() ResultCode { return r.meta.ResultCode }

// Message returns the diagnostic message.
func (r *Response[T]) Message() string { return r.meta.Message }

// MatchedDN returns the matched DN.
func (r *Response[T]) MatchedDN() string { return r.meta.MatchedDN }

// MessageID returns the protocol message id.
func (r *Response[T]) MessageID() int { return r.meta.MessageID }

// CorrelationID returns a unique identifier for this response.
func (r *Response[T]) CorrelationID() string { return r.correlationID }

// Controls returns the response controls.
func (r *Response[T]) Controls() []ResponseControl { return slices.Clone(r.meta.Controls) }

// Control returns the response control with the given OID, or nil.
func (r *Response[T]) Control(oid string) ResponseControl {
	for _, c := range r.meta.Controls {
		if c.OID() == oid {
			return c
		}
	}
	return nil
}

// ReferralURLs returns the referral URLs.
func (r *Response[T]) ReferralURLs() []string { return slices.Clone(r.meta.ReferralURLs) }

func (r *Response[T]) String() string {
	if !r.hasResultCode {
		return fmt.Sprintf("[result=%v, correlationID=%s]", r.result, r.correlationID)
	}
	return fmt.Sprintf("[result=%v, resultCode=%d, message=%q, matchedDN=%q, controls=%d, referrals=%v, messageID=%d, correlationID=%s]",
		r.result, r.meta.ResultCode, r.meta.Message, r.meta.MatchedDN, len(r.meta.Controls), r.meta.ReferralURLs, r.meta.MessageID, r.correlationID)
}
