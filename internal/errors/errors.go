package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

/**
 * Error types for the manga translation worker
 *
 * Every per-image failure carries a code and a human-readable message.
 * The message is what ends up in the terminal TranslationState.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Per-image pipeline errors (fatal for that image)
	ErrorDecodeFailed         ErrorCode = "DECODE_FAILED"
	ErrorNoTextDetected       ErrorCode = "NO_TEXT_DETECTED"
	ErrorRenderFailed         ErrorCode = "RENDER_FAILED"
	ErrorVerificationRejected ErrorCode = "VERIFICATION_REJECTED"
	ErrorOCRFailed            ErrorCode = "OCR_FAILED"
	ErrorProcessingTimeout    ErrorCode = "PROCESSING_TIMEOUT"
	ErrorUnsupportedFormat    ErrorCode = "UNSUPPORTED_FORMAT"
	ErrorDownloadFailed       ErrorCode = "DOWNLOAD_FAILED"

	// Translation errors (recovered by the provider chain / per-box fallback)
	ErrorProviderTransport     ErrorCode = "PROVIDER_TRANSPORT"
	ErrorAllProvidersExhausted ErrorCode = "ALL_PROVIDERS_EXHAUSTED"

	// Storage errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code      ErrorCode
	Message   string
	JobID     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Is matches any ProcessingError carrying the same code, so callers can
// write errors.Is(err, errors.ErrNoTextDetected).
func (e *ProcessingError) Is(target error) bool {
	t, ok := target.(*ProcessingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrDecodeFailed          = &ProcessingError{Code: ErrorDecodeFailed}
	ErrNoTextDetected        = &ProcessingError{Code: ErrorNoTextDetected}
	ErrRenderFailed          = &ProcessingError{Code: ErrorRenderFailed}
	ErrProviderTransport     = &ProcessingError{Code: ErrorProviderTransport}
	ErrAllProvidersExhausted = &ProcessingError{Code: ErrorAllProvidersExhausted}
)

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if goerrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a ProcessingError with code.
func HasCode(err error, code ErrorCode) bool {
	return goerrors.Is(err, &ProcessingError{Code: code})
}

// Factory functions for common errors

func NewDecodeError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDecodeFailed,
		Message:   "Image could not be decoded",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNoTextDetectedError(jobID string, recognizer string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorNoTextDetected,
		Message:   "No text detected in image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"recognizer": recognizer,
		},
	}
}

func NewRenderError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRenderFailed,
		Message:   "Failed to render translated image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewVerificationRejectedError(jobID string, rounds int) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorVerificationRejected,
		Message:   fmt.Sprintf("Detected text rejected after %d verification rounds", rounds),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"rounds": rounds,
		},
	}
}

func NewProcessingTimeoutError(jobID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProcessingTimeout,
		Message:   fmt.Sprintf("Processing timed out after %v", duration),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewOCRFailedError(jobID string, tier string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorOCRFailed,
		Message:   fmt.Sprintf("OCR failed at tier: %s", tier),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"ocr_tier": tier,
		},
		Cause: cause,
	}
}

func NewUnsupportedFormatError(jobID string, mimeType string) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorUnsupportedFormat,
		Message:   fmt.Sprintf("Unsupported image format: %s", mimeType),
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"mime_type": mimeType,
		},
	}
}

func NewDownloadFailedError(jobID string, url string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorDownloadFailed,
		Message:   "Failed to download image",
		JobID:     jobID,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"url": url,
		},
		Cause: cause,
	}
}

func NewProviderTransportError(provider string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorProviderTransport,
		Message:   fmt.Sprintf("Translation provider %s failed", provider),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"provider": provider,
		},
		Cause: cause,
	}
}

func NewAllProvidersExhaustedError(attempted []string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorAllProvidersExhausted,
		Message:   fmt.Sprintf("All %d translation providers failed", len(attempted)),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"providers": attempted,
		},
		Cause: cause,
	}
}

func NewStorageFailedError(jobID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorStorageFailed,
		Message:   "Failed to store job status",
		JobID:     jobID,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
