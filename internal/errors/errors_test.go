package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		want     string
	}{
		{SeverityInfo, "info"},
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.severity.String(); got != tt.want {
				t.Errorf("Severity.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// FlowError Tests
// -----------------------------------------------------------------------------

func TestNewFlowError(t *testing.T) {
	err := NewFlowError("Failed to get pairing token", ErrPairingFailed)

	if err.UserMessage != "Failed to get pairing token" {
		t.Errorf("UserMessage = %q", err.UserMessage)
	}
	if err.Severity() != SeverityWarning {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityWarning)
	}
	if !errors.Is(err, ErrPairingFailed) {
		t.Error("FlowError should match its cause with errors.Is")
	}
}

func TestFlowError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *FlowError
		want string
	}{
		{
			name: "message only",
			err:  NewFlowError("Camera activation failed", nil),
			want: "flow error: Camera activation failed",
		},
		{
			name: "with cause",
			err:  NewFlowError("Bridge connection failed", ErrBridgeConnect),
			want: "flow error: Bridge connection failed: bridge connection failed",
		},
		{
			name: "with phase and cause",
			err:  NewFlowError("lost tracking", ErrLostTracking).WithPhase("human_detect"),
			want: "flow error [phase=human_detect]: lost tracking: lost tracking",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// -----------------------------------------------------------------------------
// UnexpectedError Tests
// -----------------------------------------------------------------------------

func TestUnexpectedError(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := NewUnexpectedError("encode_frame", cause)

	if got, want := err.Error(), "unexpected error [op=encode_frame]: disk full"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Error("UnexpectedError should unwrap to its cause")
	}
	if err.Severity() != SeverityError {
		t.Errorf("Severity() = %v, want %v", err.Severity(), SeverityError)
	}
	if got := NewUnexpectedError("noop", nil).Error(); got != "unexpected error [op=noop]" {
		t.Errorf("Error() without cause = %q", got)
	}
}

func TestTimeoutError(t *testing.T) {
	err := NewTimeoutError("app_ready", 25*time.Second).WithCause(ErrAppReadyTimeout)

	if got, want := err.Error(), "app_ready timed out after 25s: mobile app did not connect in time"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrAppReadyTimeout) {
		t.Error("TimeoutError should unwrap to its cause")
	}

	var te *TimeoutError
	wrapped := NewFlowError("Mobile app connection timeout", err)
	if !errors.As(wrapped, &te) || te.Duration != 25*time.Second {
		t.Error("TimeoutError should be reachable through a FlowError")
	}
}

// -----------------------------------------------------------------------------
// Classification Tests
// -----------------------------------------------------------------------------

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"canceled", context.Canceled, KindCanceled},
		{"wrapped canceled", Wrap(context.Canceled, "wait app ready"), KindCanceled},
		{"flow wrapping canceled", NewFlowError("x", context.Canceled), KindCanceled},
		{"flow", NewFlowError("validation failed", ErrValidationFailed), KindFlow},
		{"wrapped flow", Wrap(NewFlowError("lost tracking", ErrLostTracking), "collect"), KindFlow},
		{"unexpected typed", NewUnexpectedError("encode", nil), KindUnexpected},
		{"plain", New("boom"), KindUnexpected},
		{"sentinel alone", ErrNoFace, KindUnexpected},
		{"deadline", context.DeadlineExceeded, KindUnexpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	tests := map[Kind]string{
		KindNone:       "none",
		KindCanceled:   "canceled",
		KindFlow:       "flow",
		KindUnexpected: "unexpected",
		Kind(42):       "unknown",
	}
	for k, want := range tests {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), got, want)
		}
	}
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, ""},
		{"flow", NewFlowError("Mobile app connection timeout", ErrAppReadyTimeout), "Mobile app connection timeout"},
		{"wrapped flow", fmt.Errorf("step: %w", NewFlowError("lost tracking", ErrLostTracking)), "lost tracking"},
		{"unexpected", New("nil pointer in encoder"), GenericUserMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := UserMessage(tt.err); got != tt.want {
				t.Errorf("UserMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsUserFacing(t *testing.T) {
	if !IsUserFacing(NewFlowError("x", nil)) {
		t.Error("flow errors should be user facing")
	}
	if IsUserFacing(New("internal")) {
		t.Error("plain errors should not be user facing")
	}
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
}

func TestGetSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Severity
	}{
		{"nil", nil, SeverityInfo},
		{"canceled", context.Canceled, SeverityInfo},
		{"flow", NewFlowError("x", nil), SeverityWarning},
		{"wrapped flow", Wrap(NewFlowError("x", nil), "ctx"), SeverityWarning},
		{"unexpected", NewUnexpectedError("op", nil), SeverityError},
		{"plain", New("boom"), SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetSeverity(tt.err); got != tt.want {
				t.Errorf("GetSeverity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "x") != nil {
		t.Error("Wrap(nil) should return nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Error("Wrapf(nil) should return nil")
	}

	err := Wrapf(ErrNotConnected, "send %s", "to_backend")
	if err.Error() != "send to_backend: bridge not connected" {
		t.Errorf("Wrapf() = %q", err.Error())
	}
	if !Is(err, ErrNotConnected) {
		t.Error("wrapped error should match sentinel")
	}
}
