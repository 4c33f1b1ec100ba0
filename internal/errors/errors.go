package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Exit codes for browserpool
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitNotFound     = 2
	ExitOwnership    = 3
	ExitCapacity     = 4
	ExitLaunchFailed = 5
	ExitConfigError  = 6
	ExitStoreError   = 7
	ExitRemoteError  = 8
	ExitUnavailable  = 9
)

// Kind classifies a PoolError. Kinds travel over the wire as the error type.
type Kind string

const (
	KindGeneral           Kind = "general"
	KindNotFound          Kind = "not_found"
	KindOwnershipMismatch Kind = "ownership_mismatch"
	KindCapacityExhausted Kind = "capacity_exhausted"
	KindLaunchFailed      Kind = "launch_failed"
	KindTransientRemote   Kind = "transient_remote"
	KindConfig            Kind = "config"
	KindStore             Kind = "store"
	KindValidation        Kind = "validation"
	KindUnavailable       Kind = "unavailable"
)

var kindCodes = map[Kind]int{
	KindGeneral:           ExitGeneralError,
	KindNotFound:          ExitNotFound,
	KindOwnershipMismatch: ExitOwnership,
	KindCapacityExhausted: ExitCapacity,
	KindLaunchFailed:      ExitLaunchFailed,
	KindTransientRemote:   ExitRemoteError,
	KindConfig:            ExitConfigError,
	KindStore:             ExitStoreError,
	KindValidation:        ExitGeneralError,
	KindUnavailable:       ExitUnavailable,
}

var kindStatus = map[Kind]int{
	KindNotFound:          http.StatusNotFound,
	KindOwnershipMismatch: http.StatusForbidden,
	KindCapacityExhausted: http.StatusServiceUnavailable,
	KindLaunchFailed:      http.StatusBadGateway,
	KindTransientRemote:   http.StatusGatewayTimeout,
	KindValidation:        http.StatusBadRequest,
}

// PoolError is the base error type for browserpool
type PoolError struct {
	Kind    Kind
	Code    int
	Message string
	Cause   error
}

func (e *PoolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *PoolError) Unwrap() error {
	return e.Cause
}

// ExitCode returns the exit code for this error
func (e *PoolError) ExitCode() int {
	return e.Code
}

// New creates a PoolError of the given kind.
func New(kind Kind, message string) *PoolError {
	code, ok := kindCodes[kind]
	if !ok {
		kind, code = KindGeneral, ExitGeneralError
	}
	return &PoolError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps cause in a PoolError of the given kind.
func Wrap(kind Kind, message string, cause error) *PoolError {
	e := New(kind, message)
	e.Cause = cause
	return e
}

// NotFound returns an error for an unknown instance id
func NotFound(instanceID string) *PoolError {
	return New(KindNotFound, fmt.Sprintf("instance not found: %s", instanceID))
}

// OwnershipMismatch returns an error when agentID does not hold the lease on instanceID
func OwnershipMismatch(instanceID, agentID string) *PoolError {
	return New(KindOwnershipMismatch, fmt.Sprintf("instance %s is not allocated to agent %s", instanceID, agentID))
}

// CapacityExhausted returns an error when no idle slot is left
func CapacityExhausted(capacity int) *PoolError {
	return New(KindCapacityExhausted, fmt.Sprintf("no idle instances available (capacity %d)", capacity))
}

// LaunchFailed returns an error for a browser that failed to start
func LaunchFailed(instanceID string, cause error) *PoolError {
	return Wrap(KindLaunchFailed, fmt.Sprintf("failed to launch %s", instanceID), cause)
}

// TransientRemote returns an error for a remote step that timed out or failed transiently
func TransientRemote(op string, cause error) *PoolError {
	return Wrap(KindTransientRemote, fmt.Sprintf("remote %s failed", op), cause)
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *PoolError {
	return Wrap(KindConfig, message, cause)
}

// StoreError returns an error for persistent store operations
func StoreError(op string, cause error) *PoolError {
	return Wrap(KindStore, fmt.Sprintf("store %s failed", op), cause)
}

// ValidationError returns an error for input validation failures
func ValidationError(message string) *PoolError {
	return New(KindValidation, message)
}

// Unavailable returns an error when the pool server cannot be reached
func Unavailable(addr string, cause error) *PoolError {
	return Wrap(KindUnavailable, fmt.Sprintf("pool server %s unreachable", addr), cause)
}

// KindOf returns the kind of the first PoolError in err's chain.
func KindOf(err error) Kind {
	var poolErr *PoolError
	if errors.As(err, &poolErr) {
		return poolErr.Kind
	}
	return KindGeneral
}

// IsKind reports whether err carries a PoolError of the given kind.
func IsKind(err error, kind Kind) bool {
	var poolErr *PoolError
	return errors.As(err, &poolErr) && poolErr.Kind == kind
}

// HTTPStatus maps err to the status code the server responds with.
func HTTPStatus(err error) int {
	if status, ok := kindStatus[KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	var poolErr *PoolError
	if errors.As(err, &poolErr) {
		return poolErr.ExitCode()
	}
	return ExitGeneralError
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
