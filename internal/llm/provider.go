// Package llm routes analysis and translation tasks to language-model
// providers. A small Provider capability interface hides the transport;
// the Router owns routing, rate limiting, retry and fallback; the
// ResponseParser turns free-form model output into schema-validated JSON.
package llm

import (
	"context"
	"errors"

	"github.com/voxcut/voxcut/internal/models"
)

// Provider names used in the routing table.
const (
	ProviderLocal  = "local"
	ProviderRemote = "remote"
)

// Request is one generation call.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Temperature is the sampling temperature. nil falls back to the
	// router default; a pointer to zero is honored as zero.
	Temperature *float64
	MaxTokens   int
}

// TemperatureValue returns the requested temperature, or 0 when unset.
func (r Request) TemperatureValue() float64 {
	if r.Temperature == nil {
		return 0
	}
	return *r.Temperature
}

// Response is the raw provider output plus token accounting.
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Provider is the capability set a back-end must offer. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Name returns the routing-table name (local or remote).
	Name() string
	// Generate produces a completion for the request.
	Generate(ctx context.Context, req Request) (*Response, error)
	// Healthy is a cheap liveness probe.
	Healthy(ctx context.Context) bool
}

// Sentinel errors shared by the provider adapters.
var (
	// ErrRateLimited maps HTTP 429 from the remote provider.
	ErrRateLimited = errors.New("provider rate limited")
	// ErrQuotaExceeded means the billing quota is spent; never retried.
	ErrQuotaExceeded = errors.New("provider quota exceeded")
	// ErrUnreachable means the endpoint could not be reached at all.
	ErrUnreachable = errors.New("provider unreachable")
	// ErrAuth means the request was rejected for bad credentials.
	ErrAuth = errors.New("provider authentication failed")
	// ErrBadResponse means the provider answered with an unusable payload.
	ErrBadResponse = errors.New("provider returned bad response")
	// ErrParseFailure means no JSON could be extracted from the response.
	ErrParseFailure = errors.New("response parse failure")
	// ErrSchemaFailure means extracted JSON violated the task schema.
	ErrSchemaFailure = errors.New("response schema validation failure")
)

// ClassifyError maps provider and parser errors onto the pipeline taxonomy.
func ClassifyError(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrRateLimited):
		return models.ErrKindRateLimited
	case errors.Is(err, ErrQuotaExceeded):
		return models.ErrKindResourceExhausted
	case errors.Is(err, ErrUnreachable), errors.Is(err, ErrAuth):
		return models.ErrKindProviderUnavailable
	case errors.Is(err, ErrParseFailure), errors.Is(err, ErrSchemaFailure), errors.Is(err, ErrBadResponse):
		return models.ErrKindParseFailure
	default:
		return models.KindOf(err)
	}
}
