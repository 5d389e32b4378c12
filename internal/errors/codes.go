package errors

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for coordinator operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Caller errors
	ErrCodeInvalidArgument ErrorCode = 1000
	ErrCodeNotBound        ErrorCode = 1001
	ErrCodeAlreadyBound    ErrorCode = 1002

	// Transaction log errors
	ErrCodeInternal      ErrorCode = 2000
	ErrCodeLogCorrupted  ErrorCode = 2001
	ErrCodeLogIOFailed   ErrorCode = 2002
	ErrCodeLogClosed     ErrorCode = 2003
	ErrCodeDiskFull      ErrorCode = 2004
	ErrCodeRotateFailed  ErrorCode = 2005

	// XA resource manager errors, named after the XA error codes they stand for
	ErrCodeNoTransaction ErrorCode = 3000 // XAER_NOTA
	ErrCodeRMError       ErrorCode = 3001 // XAER_RMERR
	ErrCodeRMFail        ErrorCode = 3002 // XAER_RMFAIL
)

// String returns the symbolic name of the code
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeNotBound:
		return "NOT_BOUND"
	case ErrCodeAlreadyBound:
		return "ALREADY_BOUND"
	case ErrCodeLogCorrupted:
		return "LOG_CORRUPTED"
	case ErrCodeLogIOFailed:
		return "LOG_IO_FAILED"
	case ErrCodeLogClosed:
		return "LOG_CLOSED"
	case ErrCodeDiskFull:
		return "DISK_FULL"
	case ErrCodeRotateFailed:
		return "ROTATE_FAILED"
	case ErrCodeNoTransaction:
		return "XAER_NOTA"
	case ErrCodeRMError:
		return "XAER_RMERR"
	case ErrCodeRMFail:
		return "XAER_RMFAIL"
	default:
		return "INTERNAL"
	}
}

// CoordinatorError represents a structured error with code and context
type CoordinatorError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CoordinatorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CoordinatorError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code, so callers can write
// errors.Is(err, errors.NoTransaction(...)) style checks against sentinels.
func (e *CoordinatorError) Is(target error) bool {
	var t *CoordinatorError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// ToGRPCStatus converts CoordinatorError to gRPC status
func (e *CoordinatorError) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *CoordinatorError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeInvalidArgument:
		return codes.InvalidArgument
	case ErrCodeNoTransaction:
		return codes.NotFound
	case ErrCodeNotBound:
		return codes.FailedPrecondition
	case ErrCodeAlreadyBound:
		return codes.AlreadyExists
	case ErrCodeDiskFull:
		return codes.ResourceExhausted
	case ErrCodeLogCorrupted:
		return codes.DataLoss
	case ErrCodeLogClosed, ErrCodeRMFail:
		return codes.Unavailable
	case ErrCodeRMError:
		return codes.Aborted
	default:
		return codes.Internal
	}
}

// NewCoordinatorError creates a new CoordinatorError
func NewCoordinatorError(code ErrorCode, message string, cause error) *CoordinatorError {
	return &CoordinatorError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CoordinatorError) WithDetail(key string, value interface{}) *CoordinatorError {
	e.Details[key] = value
	return e
}

// Sentinels for errors.Is comparisons. They carry no message and match any
// CoordinatorError with the same code.
var (
	ErrNoTransaction = &CoordinatorError{Code: ErrCodeNoTransaction}
	ErrRMError       = &CoordinatorError{Code: ErrCodeRMError}
	ErrRMFail        = &CoordinatorError{Code: ErrCodeRMFail}
	ErrLogCorrupted  = &CoordinatorError{Code: ErrCodeLogCorrupted}
	ErrLogClosed     = &CoordinatorError{Code: ErrCodeLogClosed}
	ErrAlreadyBound  = &CoordinatorError{Code: ErrCodeAlreadyBound}
)

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeInvalidArgument, message, cause)
}

func InternalError(message string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeInternal, message, cause)
}

func LogCorrupted(path, reason string) *CoordinatorError {
	return NewCoordinatorError(ErrCodeLogCorrupted, fmt.Sprintf("transaction log corrupted: %s", reason), nil).
		WithDetail("path", path).
		WithDetail("reason", reason)
}

func LogIOFailed(message string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeLogIOFailed, message, cause)
}

func LogClosed() *CoordinatorError {
	return NewCoordinatorError(ErrCodeLogClosed, "transaction log is closed", nil)
}

func DiskFull(dir string, required, available uint64) *CoordinatorError {
	return NewCoordinatorError(ErrCodeDiskFull, fmt.Sprintf("insufficient space in %s: need %d bytes, %d available", dir, required, available), nil).
		WithDetail("dir", dir).
		WithDetail("required_bytes", required).
		WithDetail("available_bytes", available)
}

func RotateFailed(message string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeRotateFailed, message, cause)
}

func NoTransaction(identifier string) *CoordinatorError {
	return NewCoordinatorError(ErrCodeNoTransaction, fmt.Sprintf("no pending branch: %s", identifier), nil).
		WithDetail("identifier", identifier)
}

func RMError(resourceID, op string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeRMError, fmt.Sprintf("resource manager %s: %s failed", resourceID, op), cause).
		WithDetail("resource_id", resourceID).
		WithDetail("operation", op)
}

func RMFail(resourceID, op string, cause error) *CoordinatorError {
	return NewCoordinatorError(ErrCodeRMFail, fmt.Sprintf("resource manager %s unavailable during %s", resourceID, op), cause).
		WithDetail("resource_id", resourceID).
		WithDetail("operation", op)
}

func NotBound(identifier string) *CoordinatorError {
	return NewCoordinatorError(ErrCodeNotBound, fmt.Sprintf("resource %s has no resource manager bound", identifier), nil).
		WithDetail("identifier", identifier)
}

func AlreadyBound(what string) *CoordinatorError {
	return NewCoordinatorError(ErrCodeAlreadyBound, fmt.Sprintf("%s has already been bound", what), nil)
}

// IsCoordinatorError checks if an error is a CoordinatorError
func IsCoordinatorError(err error) bool {
	var ce *CoordinatorError
	return errors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var ce *CoordinatorError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}
