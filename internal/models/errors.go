package models

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrorKind classifies a pipeline failure. Kinds drive retry policy at the
// stage-runner and router boundaries; they are deliberately a closed set.
type ErrorKind string

const (
	// ErrKindTransientNetwork covers connection resets, DNS hiccups and
	// 5xx responses from the fetcher or the remote LLM.
	ErrKindTransientNetwork ErrorKind = "transient_network"
	// ErrKindRateLimited is returned when the remote provider sheds load.
	ErrKindRateLimited ErrorKind = "rate_limited"
	// ErrKindInvalidInput covers bad URLs and malformed edit segments.
	ErrKindInvalidInput ErrorKind = "invalid_input"
	// ErrKindResourceExhausted covers gate timeouts, disk-full and OOM.
	ErrKindResourceExhausted ErrorKind = "resource_exhausted"
	// ErrKindProviderUnavailable means the selected LLM endpoint is down.
	ErrKindProviderUnavailable ErrorKind = "provider_unavailable"
	// ErrKindParseFailure means an LLM response could not be parsed or
	// failed schema validation.
	ErrKindParseFailure ErrorKind = "parse_failure"
	// ErrKindPartialFailure marks a stage that completed below full success
	// but above the configured minimum rate.
	ErrKindPartialFailure ErrorKind = "partial_failure"
	// ErrKindCancelled is the terminal kind for user cancellation.
	ErrKindCancelled ErrorKind = "cancelled"
	// ErrKindCorruptState means a checkpoint could not be trusted.
	ErrKindCorruptState ErrorKind = "corrupt_state"
)

// Retryable reports whether failures of this kind are eligible for the stage
// retry budget.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrKindTransientNetwork, ErrKindRateLimited, ErrKindProviderUnavailable, ErrKindParseFailure:
		return true
	default:
		return false
	}
}

// userMessages are the default operator-facing descriptions per kind.
var userMessages = map[ErrorKind]string{
	ErrKindTransientNetwork:    "a network operation failed; the stage will be retried",
	ErrKindRateLimited:         "the remote provider is rate limiting requests",
	ErrKindInvalidInput:        "the input is invalid; correct it and start a new run",
	ErrKindResourceExhausted:   "system resources are exhausted; free capacity and resume",
	ErrKindProviderUnavailable: "the language model endpoint is unreachable",
	ErrKindParseFailure:        "the language model returned an unusable response",
	ErrKindPartialFailure:      "some items failed; the run continued with flagged results",
	ErrKindCancelled:           "the run was cancelled",
	ErrKindCorruptState:        "the saved run state is corrupt and cannot be resumed",
}

// PipelineError is the structured error surfaced from Run and Resume. The
// checkpoint is preserved whenever the run can be resumed later.
type PipelineError struct {
	Kind        ErrorKind `json:"kind"`
	Stage       Stage     `json:"stage"`
	Cause       error     `json:"-"`
	Retryable   bool      `json:"retryable"`
	UserMessage string    `json:"user_message"`
}

// NewPipelineError builds a PipelineError with the kind's default
// retryability and user message.
func NewPipelineError(kind ErrorKind, stage Stage, cause error) *PipelineError {
	return &PipelineError{
		Kind:        kind,
		Stage:       stage,
		Cause:       cause,
		Retryable:   kind.Retryable(),
		UserMessage: userMessages[kind],
	}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s at stage %s: %v", e.Kind, e.Stage, e.Cause)
	}
	return fmt.Sprintf("%s at stage %s", e.Kind, e.Stage)
}

// Unwrap exposes the cause chain to errors.Is and errors.As.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// KindOf extracts the ErrorKind from anywhere in err's chain. Context
// cancellation maps to ErrKindCancelled; unclassified errors default to
// ErrKindTransientNetwork so unknown failures stay visible but retryable.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	var ke interface{ ErrorKind() ErrorKind }
	if errors.As(err, &ke) {
		return ke.ErrorKind()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrKindCancelled
	}
	return ErrKindTransientNetwork
}

// IsRetryable reports whether err should consume stage retry budget rather
// than terminating the run.
func IsRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return KindOf(err).Retryable()
}

// Backoff parameters used by stage retries and the LLM router.
const (
	BackoffBase   = 1 * time.Second
	BackoffFactor = 2.0
	BackoffMax    = 60 * time.Second
	BackoffJitter = 0.2
)

// BackoffDelay computes the delay before retry attempt n (1-based):
// base * factor^(n-1), capped at max, with a ±jitter fraction applied.
func BackoffDelay(attempt int, base time.Duration, factor float64, max time.Duration, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= factor
		if d >= float64(max) {
			d = float64(max)
			break
		}
	}
	if d > float64(max) {
		d = float64(max)
	}
	if jitter > 0 {
		spread := d * jitter
		d = d - spread + rand.Float64()*2*spread
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// DefaultBackoffDelay applies the standard pipeline backoff parameters.
func DefaultBackoffDelay(attempt int) time.Duration {
	return BackoffDelay(attempt, BackoffBase, BackoffFactor, BackoffMax, BackoffJitter)
}
