package ldap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Error taxonomy. Use errors.Is against these to classify any error
// returned from this package.
var (
	// ErrConnectionLost means the endpoint is unreachable or the session was severed.
	// The directory client handles it internally and never returns it from Search
	// unless the search context ends first.
	ErrConnectionLost = errors.New("connection lost")

	// ErrInvalidCriteria means an empty criteria set reached the filter builder.
	ErrInvalidCriteria = errors.New("invalid criteria")

	// ErrProtocol means the directory rejected the request.
	ErrProtocol = errors.New("protocol error")

	// ErrConfiguration means the endpoint list, base DN or scope is unusable.
	ErrConfiguration = errors.New("configuration error")
)

// ErrorCategory represents different categories of LDAP errors.
type ErrorCategory string

const (
	ErrorCategoryConnection     ErrorCategory = "connection"
	ErrorCategoryCriteria       ErrorCategory = "criteria"
	ErrorCategoryConfiguration  ErrorCategory = "configuration"
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryNotFound       ErrorCategory = "not_found"
	ErrorCategoryValidation     ErrorCategory = "validation"
	ErrorCategoryServer         ErrorCategory = "server"
	ErrorCategoryUnknown        ErrorCategory = "unknown"
)

// LDAPError provides enhanced error information for LDAP operations.
type LDAPError struct {
	Operation string        // The operation that failed
	Category  ErrorCategory // Error category
	LDAPCode  uint16        // LDAP result code
	Message   string        // Human-readable message
	ServerMsg string        // Server-provided message
	DN        string        // DN involved in the operation (if applicable)
	Retryable bool          // Whether the error is retryable
	Cause     error         // Underlying error
}

func (e *LDAPError) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("LDAP %s failed (code %d)", e.Operation, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("LDAP %s failed", e.Operation))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}

	if e.ServerMsg != "" && e.ServerMsg != e.Message {
		parts = append(parts, fmt.Sprintf("server: %s", e.ServerMsg))
	}

	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *LDAPError) IsRetryable() bool {
	return e.Retryable
}

func (e *LDAPError) Unwrap() error {
	return e.Cause
}

// Is maps the error category onto the package sentinels.
func (e *LDAPError) Is(target error) bool {
	switch target {
	case ErrConnectionLost:
		return e.Category == ErrorCategoryConnection
	case ErrInvalidCriteria:
		return e.Category == ErrorCategoryCriteria
	case ErrConfiguration:
		return e.Category == ErrorCategoryConfiguration
	case ErrProtocol:
		switch e.Category {
		case ErrorCategoryConnection, ErrorCategoryCriteria, ErrorCategoryConfiguration:
			return false
		}
		return true
	}
	return false
}

// NewLDAPError creates a new LDAP error from a directory or transport error.
func NewLDAPError(operation string, err error) *LDAPError {
	if err == nil {
		return nil
	}

	ldapErr := &LDAPError{
		Operation: operation,
		Cause:     err,
	}

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		ldapErr.LDAPCode = resultErr.ResultCode
		if resultErr.Err != nil {
			ldapErr.ServerMsg = resultErr.Err.Error()
		}
		ldapErr.DN = resultErr.MatchedDN
		ldapErr.Message = getLDAPCodeMessage(resultErr.ResultCode)
	} else {
		ldapErr.Message = err.Error()
	}

	if IsConnectionLost(err) {
		ldapErr.Category = ErrorCategoryConnection
		ldapErr.Retryable = true
	} else if resultErr != nil {
		ldapErr.Category = categorizeError(resultErr.ResultCode)
	} else {
		ldapErr.Category = ErrorCategoryUnknown
	}

	return ldapErr
}

// NewConfigurationError creates an error for unusable configuration.
func NewConfigurationError(message string, cause error) *LDAPError {
	return &LDAPError{
		Operation: "configure",
		Category:  ErrorCategoryConfiguration,
		Message:   message,
		Cause:     cause,
	}
}

// IsConnectionLost reports whether err means the endpoint is unreachable or
// the session has been severed.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.Category == ErrorCategoryConnection {
		return true
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}

	if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultServerDown) ||
		ldap.IsErrorWithCode(err, ldap.LDAPResultConnectError) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed)
}

// categorizeError categorizes a directory rejection based on its result code.
func categorizeError(code uint16) ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultConfidentialityRequired:
		return ErrorCategoryAuthentication

	case ldap.LDAPResultInsufficientAccessRights,
		ldap.LDAPResultUnwillingToPerform:
		return ErrorCategoryPermission

	case ldap.LDAPResultNoSuchObject:
		return ErrorCategoryNotFound

	case ldap.LDAPResultFilterError,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultProtocolError,
		ldap.LDAPResultUndefinedAttributeType,
		ldap.LDAPResultInappropriateMatching:
		return ErrorCategoryValidation

	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded,
		ldap.LDAPResultOperationsError:
		return ErrorCategoryServer

	default:
		return ErrorCategoryUnknown
	}
}

// getLDAPCodeMessage returns a human-readable message for an LDAP result code.
func getLDAPCodeMessage(code uint16) string {
	if msg, ok := ldap.LDAPResultCodeMap[code]; ok {
		return msg
	}
	return fmt.Sprintf("Unknown LDAP error (code %d)", code)
}

// GetErrorCategory returns the category of an error.
func GetErrorCategory(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryUnknown
	}

	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) {
		return ldapErr.Category
	}

	return NewLDAPError("", err).Category
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// Is reports retryable connection errors as ErrConnectionLost.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionLost && e.retryable
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
