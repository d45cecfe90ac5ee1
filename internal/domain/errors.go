package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a stage failure for logs, metrics and the reply the
// user hears.
type ErrorKind string

const (
	KindTimeout             ErrorKind = "timeout"
	KindProviderError       ErrorKind = "provider_error"
	KindInvalidAudio        ErrorKind = "invalid_audio"
	KindMalformedResponse   ErrorKind = "malformed_response"
	KindUnknownIntent       ErrorKind = "unknown_intent"
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindTextTooLong         ErrorKind = "text_too_long"
	KindInvalidInput        ErrorKind = "invalid_input"
	KindRateLimited         ErrorKind = "rate_limited"
	KindUnauthorized        ErrorKind = "unauthorized"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrSessionLimit   = errors.New("too many concurrent sessions")
	ErrNotFound       = errors.New("not found")
)

type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded (limit %d), retry after %s", e.Limit, e.RetryAfter)
}

type TranscriptionError struct {
	Kind ErrorKind
	Err  error
}

func (e *TranscriptionError) Error() string { return stageError("transcription", e.Kind, e.Err) }
func (e *TranscriptionError) Unwrap() error { return e.Err }

type ClassificationError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassificationError) Error() string { return stageError("classification", e.Kind, e.Err) }
func (e *ClassificationError) Unwrap() error { return e.Err }

type RoutingError struct {
	Kind ErrorKind
	Err  error
}

func (e *RoutingError) Error() string { return stageError("routing", e.Kind, e.Err) }
func (e *RoutingError) Unwrap() error { return e.Err }

type SynthesisError struct {
	Kind ErrorKind
	Err  error
}

func (e *SynthesisError) Error() string { return stageError("synthesis", e.Kind, e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

func stageError(stage string, kind ErrorKind, err error) string {
	if err == nil {
		return fmt.Sprintf("%s failed: %s", stage, kind)
	}
	return fmt.Sprintf("%s failed: %s: %v", stage, kind, err)
}

// ProviderAPIError is a non-2xx answer from a remote AI provider.
type ProviderAPIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ProviderAPIError) IsServerError() bool {
	return e.StatusCode >= 500
}

// CountsAsFailure reports whether err should count against a circuit
// breaker. Timeouts, 5xx answers and connection errors count; client errors,
// invalid input and caller cancellation do not.
func CountsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *ProviderAPIError
	if errors.As(err, &apiErr) {
		return apiErr.IsServerError()
	}

	switch KindOf(err) {
	case KindInvalidAudio, KindTextTooLong, KindInvalidInput, KindMalformedResponse, KindPermissionDenied, KindUnknownIntent:
		return false
	}
	return true
}

// ExcludedFromBreaker is the inverse of CountsAsFailure for non-nil errors,
// in the shape circuit breaker settings expect.
func ExcludedFromBreaker(err error) bool {
	return err != nil && !CountsAsFailure(err)
}

// KindOf extracts the ErrorKind from any stage error in err's chain.
func KindOf(err error) ErrorKind {
	var (
		te *TranscriptionError
		ce *ClassificationError
		re *RoutingError
		se *SynthesisError
		rl *RateLimitError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rl):
		return KindRateLimited
	case errors.As(err, &te):
		return te.Kind
	case errors.As(err, &ce):
		return ce.Kind
	case errors.As(err, &re):
		return re.Kind
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, ErrAuthentication):
		return KindUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindProviderError
	}
}

// ClassifyCallError maps a raw provider error to the stage kind it implies.
func ClassifyCallError(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindProviderError
}
