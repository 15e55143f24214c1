package engine

import (
	"errors"
	"fmt"
)

// SyncError is returned when no path could complete an operation or when
// the input was rejected. Degraded-but-successful operations never return
// one.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the engine operation, e.g. "attribute_rescue".
	Op string

	// ID is the affected record id, when there is one.
	ID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes sync errors.
type ErrorCode string

const (
	// ErrCodeNotFound indicates the record does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeTerminalStatus indicates the SOS is already RESCUED or SAFE.
	ErrCodeTerminalStatus ErrorCode = "TERMINAL_STATUS"

	// ErrCodeNotActive indicates a detail edit on a SOS that is not ACTIVE.
	ErrCodeNotActive ErrorCode = "NOT_ACTIVE"

	// ErrCodeUnknownRescuer indicates a claimed rescuer id is not in the roster.
	ErrCodeUnknownRescuer ErrorCode = "UNKNOWN_RESCUER"

	// ErrCodeAllocationExhausted indicates no free rescuer id was found.
	ErrCodeAllocationExhausted ErrorCode = "ALLOCATION_EXHAUSTED"

	// ErrCodeInvalidInput indicates a draft, patch or message failed validation.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"

	// ErrCodeUnavailable indicates neither the remote nor the local cache
	// could serve the operation.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"

	// ErrCodePartialAttribution indicates the SOS was marked RESCUED on the
	// remote but the rescuer's counter could not be incremented there.
	ErrCodePartialAttribution ErrorCode = "PARTIAL_ATTRIBUTION"

	// ErrCodeForbidden indicates the admin gate rejected the credentials.
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Op != "" && e.ID != "":
		msg = fmt.Sprintf("%s (op=%s, id=%s)", msg, e.Op, e.ID)
	case e.Op != "":
		msg = fmt.Sprintf("%s (op=%s)", msg, e.Op)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SyncError) Unwrap() error { return e.Err }

func newError(code ErrorCode, op, id, message string, cause error) *SyncError {
	return &SyncError{Code: code, Op: op, ID: id, Message: message, Err: cause}
}

// CodeOf returns the code of the first SyncError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound reports whether err is a NOT_FOUND sync error.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsTerminal reports whether err is a TERMINAL_STATUS sync error.
func IsTerminal(err error) bool { return CodeOf(err) == ErrCodeTerminalStatus }

// IsNotActive reports whether err is a NOT_ACTIVE sync error.
func IsNotActive(err error) bool { return CodeOf(err) == ErrCodeNotActive }

// IsUnknownRescuer reports whether err is an UNKNOWN_RESCUER sync error.
func IsUnknownRescuer(err error) bool { return CodeOf(err) == ErrCodeUnknownRescuer }

// IsAllocationExhausted reports whether err is an ALLOCATION_EXHAUSTED sync error.
func IsAllocationExhausted(err error) bool { return CodeOf(err) == ErrCodeAllocationExhausted }

// IsInvalidInput reports whether err is an INVALID_INPUT sync error.
func IsInvalidInput(err error) bool { return CodeOf(err) == ErrCodeInvalidInput }

// IsUnavailable reports whether err is an UNAVAILABLE sync error.
func IsUnavailable(err error) bool { return CodeOf(err) == ErrCodeUnavailable }

// IsPartialAttribution reports whether err is a PARTIAL_ATTRIBUTION sync error.
func IsPartialAttribution(err error) bool { return CodeOf(err) == ErrCodePartialAttribution }

// IsForbidden reports whether err is a FORBIDDEN sync error.
func IsForbidden(err error) bool { return CodeOf(err) == ErrCodeForbidden }
