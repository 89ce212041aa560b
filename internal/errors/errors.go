// Package errors provides the error taxonomy for the kiosk daemon.
//
// Session steps fail in one of two ways:
//
//   - FlowError: an expected failure that carries a short message safe to
//     show on the kiosk display (pairing failed, app did not connect,
//     liveness failure categories).
//   - UnexpectedError: anything else. It is logged with full context and
//     displayed only as GenericUserMessage.
//
// Cancellation (context.Canceled) is a third, non-error outcome: a session
// that was cancelled by presence loss or a watchdog reset exits straight to
// Idle without showing an error.
//
// # Usage
//
//	err := errors.NewFlowError("Failed to get pairing token", errors.ErrPairingFailed)
//
//	switch errors.Classify(err) {
//	case errors.KindCanceled:
//		// normal exit path
//	case errors.KindFlow, errors.KindUnexpected:
//		show(errors.UserMessage(err))
//	}
//
// The package shadows the standard library errors package and re-exports its
// helpers, so callers only need to import this one.
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// GenericUserMessage is shown on the kiosk display for unexpected errors.
const GenericUserMessage = "Something went wrong. Please try again."

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityInfo is for outcomes that are not problems (e.g. cancellation).
	SeverityInfo Severity = iota
	// SeverityWarning is for expected failures the kiosk recovers from.
	SeverityWarning
	// SeverityError is for unexpected failures.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Pairing and bridge sentinel errors
var (
	// ErrPairingFailed indicates the token service did not issue a usable token.
	ErrPairingFailed = New("pairing failed")
	// ErrBridgeConnect indicates the bridge channel could not be opened.
	ErrBridgeConnect = New("bridge connection failed")
	// ErrAppReadyTimeout indicates the mobile app did not report in before
	// the token-derived deadline.
	ErrAppReadyTimeout = New("mobile app did not connect in time")
	// ErrAckTimeout indicates the backend did not acknowledge the upload.
	ErrAckTimeout = New("backend acknowledgment timeout")
	// ErrUploadFailed indicates the final payload could not be sent.
	ErrUploadFailed = New("upload failed")
	// ErrPlatformMissing indicates the app never supplied a platform id.
	ErrPlatformMissing = New("platform id missing")
	// ErrNotConnected indicates a send on a bridge channel that is not open.
	ErrNotConnected = New("bridge not connected")
	// ErrClosed indicates use of a component after it was closed.
	ErrClosed = New("closed")
)

// Liveness sentinel errors. Their messages are the failure categories shown
// to the user.
var (
	// ErrNoFace indicates no sample in the run contained a face.
	ErrNoFace = New("no facial features detected")
	// ErrLostTracking indicates faces were detected in too few samples.
	ErrLostTracking = New("lost tracking")
	// ErrValidationFailed indicates too few samples passed liveness.
	ErrValidationFailed = New("validation failed")
	// ErrNoSamples indicates the collector returned nothing at all.
	ErrNoSamples = New("no samples captured")
)

// Hardware sentinel errors
var (
	// ErrCameraActivation indicates the camera could not be brought up.
	ErrCameraActivation = New("camera activation failed")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// -----------------------------------------------------------------------------
// Flow Errors
// -----------------------------------------------------------------------------

// FlowError is an expected session failure with a message for the display.
//
// Example:
//
//	err := errors.NewFlowError("Mobile app connection timeout", errors.ErrAppReadyTimeout).
//		WithPhase("qr_display")
//	fmt.Println(err) // "flow error [phase=qr_display]: Mobile app connection timeout: mobile app did not connect in time"
type FlowError struct {
	baseError
	// UserMessage is the short text shown on the kiosk display.
	UserMessage string
	// Phase is the session phase in which the failure happened, if known.
	Phase string
}

// NewFlowError creates a FlowError.
func NewFlowError(userMessage string, cause error) *FlowError {
	return &FlowError{
		baseError: baseError{
			message:  userMessage,
			cause:    cause,
			severity: SeverityWarning,
		},
		UserMessage: userMessage,
	}
}

// WithPhase records the phase the failure occurred in.
func (e *FlowError) WithPhase(phase string) *FlowError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *FlowError) Error() string {
	prefix := "flow error"
	if e.Phase != "" {
		prefix = fmt.Sprintf("flow error [phase=%s]", e.Phase)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Unexpected Errors
// -----------------------------------------------------------------------------

// UnexpectedError wraps a failure the session flow does not anticipate.
// Its details are logged, never displayed.
type UnexpectedError struct {
	baseError
	// Op names the step that failed (e.g. "encode_frame").
	Op string
}

// NewUnexpectedError creates an UnexpectedError.
func NewUnexpectedError(op string, cause error) *UnexpectedError {
	return &UnexpectedError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			severity: SeverityError,
		},
		Op: op,
	}
}

// Error returns the formatted error message.
func (e *UnexpectedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("unexpected error [op=%s]: %v", e.Op, e.cause)
	}
	return fmt.Sprintf("unexpected error [op=%s]", e.Op)
}

// -----------------------------------------------------------------------------
// Timeout Errors
// -----------------------------------------------------------------------------

// TimeoutError records which wait expired and after how long.
//
// Example:
//
//	err := errors.NewTimeoutError("app_ready", 25*time.Second).WithCause(errors.ErrAppReadyTimeout)
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	cause     error
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(operation string, d time.Duration) *TimeoutError {
	return &TimeoutError{Operation: operation, Duration: d}
}

// WithCause sets the underlying cause.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %s", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.cause
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// Kind classifies the outcome of a session step.
type Kind int

const (
	// KindNone means the step succeeded.
	KindNone Kind = iota
	// KindCanceled means the step was cancelled. This is a normal exit.
	KindCanceled
	// KindFlow means an expected, user-facing failure.
	KindFlow
	// KindUnexpected means anything else.
	KindUnexpected
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindCanceled:
		return "canceled"
	case KindFlow:
		return "flow"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Classify reports what kind of outcome err represents. Cancellation takes
// precedence over a flow error wrapping it.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if IsCanceled(err) {
		return KindCanceled
	}
	var flow *FlowError
	if As(err, &flow) {
		return KindFlow
	}
	return KindUnexpected
}

// IsCanceled returns true if err is or wraps context.Canceled.
func IsCanceled(err error) bool {
	return Is(err, context.Canceled)
}

// IsUserFacing returns true if the error carries a message safe to display.
func IsUserFacing(err error) bool {
	return Classify(err) == KindFlow
}

// UserMessage returns the text to display for err. Flow errors return their
// own message, cancellation returns "", and everything else returns
// GenericUserMessage.
func UserMessage(err error) string {
	switch Classify(err) {
	case KindNone, KindCanceled:
		return ""
	case KindFlow:
		var flow *FlowError
		As(err, &flow)
		return flow.UserMessage
	default:
		return GenericUserMessage
	}
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that carry no severity.
func GetSeverity(err error) Severity {
	if err == nil || IsCanceled(err) {
		return SeverityInfo
	}
	var sev interface{ Severity() Severity }
	if As(err, &sev) {
		return sev.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to issue token")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
