package errors

import (
	goerrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestProcessingErrorIsMatchesByCode(t *testing.T) {
	err := NewNoTextDetectedError("job-1", "tesseract")
	wrapped := fmt.Errorf("detecting: %w", err)

	if !goerrors.Is(wrapped, ErrNoTextDetected) {
		t.Errorf("expected wrapped error to match ErrNoTextDetected")
	}
	if goerrors.Is(wrapped, ErrRenderFailed) {
		t.Errorf("did not expect match against ErrRenderFailed")
	}
	if CodeOf(wrapped) != ErrorNoTextDetected {
		t.Errorf("CodeOf = %q, want %q", CodeOf(wrapped), ErrorNoTextDetected)
	}
	if !HasCode(wrapped, ErrorNoTextDetected) {
		t.Errorf("HasCode returned false")
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(goerrors.New("boom")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := goerrors.New("unexpected EOF")
	err := NewDecodeError("job-2", cause)

	if !goerrors.Is(err, cause) {
		t.Errorf("expected cause to be reachable through Unwrap")
	}
	want := "DECODE_FAILED: Image could not be decoded (caused by: unexpected EOF)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestToMap(t *testing.T) {
	err := NewProcessingTimeoutError("job-3", 5*time.Second, goerrors.New("deadline"))
	m := err.ToMap()

	if m["error_code"] != "PROCESSING_TIMEOUT" {
		t.Errorf("error_code = %v", m["error_code"])
	}
	if m["timeout_duration"] != "5s" {
		t.Errorf("timeout_duration = %v", m["timeout_duration"])
	}
	if m["cause"] != "deadline" {
		t.Errorf("cause = %v", m["cause"])
	}
}

func TestAllProvidersExhaustedMessage(t *testing.T) {
	err := NewAllProvidersExhaustedError([]string{"google", "chat"}, nil)
	if err.Message != "All 2 translation providers failed" {
		t.Errorf("Message = %q", err.Message)
	}
}
