package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/time/rate"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// StrictSuffix is appended to the prompt on strict-mode retries after a
// parse or schema failure, and on every fallback call to the remote
// provider.
const StrictSuffix = "\n\nIMPORTANT: Respond with ONLY the JSON document. " +
	"No explanation, no markdown fences, no text before or after the JSON."

// rateLimitRetryBudget bounds honored-backoff retries on remote 429s.
const rateLimitRetryBudget = 3

// RouterStats counts routing outcomes for status reporting.
type RouterStats struct {
	// Calls is keyed by task kind, ProviderCalls and Failures by provider.
	Calls          map[string]uint64 `json:"calls"`
	ProviderCalls  map[string]uint64 `json:"provider_calls"`
	Fallbacks      uint64            `json:"fallbacks"`
	StrictRetries  uint64            `json:"strict_retries"`
	RateLimitWaits uint64            `json:"rate_limit_waits"`
	Failures       map[string]uint64 `json:"failures"`
}

// Router selects a provider per task kind, applies rate limiting to the
// remote provider, parses responses, and falls back from local to remote
// when enabled.
type Router struct {
	cfg     config.LLMConfig
	local   Provider
	remote  Provider
	parser  *ResponseParser
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	stats RouterStats

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRouter wires a Router over the two providers. Either provider may be
// nil when disabled in config.
func NewRouter(cfg config.LLMConfig, local, remote Provider, logger *slog.Logger) *Router {
	rpm := cfg.RPM
	if rpm < 1 {
		rpm = 60
	}
	return &Router{
		cfg:     cfg,
		local:   local,
		remote:  remote,
		parser:  NewResponseParser(),
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		logger:  observability.WithComponent(logger, "llm-router"),
		stats: RouterStats{
			Calls:         make(map[string]uint64),
			ProviderCalls: make(map[string]uint64),
			Failures:      make(map[string]uint64),
		},
		sleep: sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Execute runs a task: choose the primary provider from the routing table,
// call it, parse and validate the response into v, and apply the fallback
// and retry policy. The returned error carries a provider sentinel that
// ClassifyError maps onto the pipeline taxonomy.
func (r *Router) Execute(ctx context.Context, task string, req Request, schema *gojsonschema.Schema, v any) error {
	primary := r.pickPrimary(task)
	if primary == nil {
		return fmt.Errorf("%w: no provider enabled for task %s", ErrUnreachable, task)
	}

	r.mu.Lock()
	r.stats.Calls[task]++
	r.mu.Unlock()

	err := r.callAndParse(ctx, primary, req, schema, v)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	// Quota exhaustion is never retried anywhere.
	if errors.Is(err, ErrQuotaExceeded) {
		return err
	}

	// Local failed: one remote retry with the strict suffix, when enabled.
	if primary.Name() == ProviderLocal && r.cfg.FallbackEnabled && r.remote != nil {
		r.logger.Warn("primary provider failed, falling back to remote",
			"task", task, "error", err)
		r.mu.Lock()
		r.stats.Fallbacks++
		r.mu.Unlock()

		strict := req
		strict.Prompt += StrictSuffix
		fbErr := r.callAndParse(ctx, r.remote, strict, schema, v)
		if fbErr == nil {
			return nil
		}
		return fmt.Errorf("fallback after %v: %w", err, fbErr)
	}
	return err
}

// pickPrimary resolves the routing table against provider enablement.
func (r *Router) pickPrimary(task string) Provider {
	route := r.cfg.RouteFor(task)
	if route == ProviderRemote {
		if r.remote != nil {
			return r.remote
		}
		return r.local
	}
	if r.local != nil {
		return r.local
	}
	return r.remote
}

// callAndParse performs one provider call (with rate limiting and 429
// backoff for remote) and parses the response. Parse and schema failures
// get one strict-mode retry on the same provider.
func (r *Router) callAndParse(ctx context.Context, p Provider, req Request, schema *gojsonschema.Schema, v any) error {
	resp, err := r.call(ctx, p, req)
	if err != nil {
		return err
	}

	parseErr := r.parser.Parse(resp.Text, schema, v)
	if parseErr == nil {
		return nil
	}
	if !errors.Is(parseErr, ErrParseFailure) && !errors.Is(parseErr, ErrSchemaFailure) {
		return parseErr
	}

	r.logger.Debug("response unparseable, retrying in strict mode",
		"provider", p.Name(), "error", parseErr)
	r.mu.Lock()
	r.stats.StrictRetries++
	r.mu.Unlock()

	strict := req
	strict.Prompt += StrictSuffix
	resp, err = r.call(ctx, p, strict)
	if err != nil {
		return fmt.Errorf("strict retry: %w", err)
	}
	if err := r.parser.Parse(resp.Text, schema, v); err != nil {
		return fmt.Errorf("strict retry: %w", err)
	}
	return nil
}

// call performs one generation with accounting. Remote calls wait on the
// token bucket and back off on rate-limit errors within the retry budget.
func (r *Router) call(ctx context.Context, p Provider, req Request) (*Response, error) {
	if req.Temperature == nil {
		temp := r.cfg.Temperature
		req.Temperature = &temp
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = r.cfg.MaxOutputTokens
	}

	isRemote := p.Name() == ProviderRemote
	var lastErr error
	for attempt := 0; attempt <= rateLimitRetryBudget; attempt++ {
		if isRemote {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		r.mu.Lock()
		r.stats.ProviderCalls[p.Name()]++
		r.mu.Unlock()

		resp, err := p.Generate(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		r.mu.Lock()
		r.stats.Failures[p.Name()]++
		r.mu.Unlock()

		if !isRemote || !errors.Is(err, ErrRateLimited) || attempt == rateLimitRetryBudget {
			return nil, err
		}

		delay := models.BackoffDelay(attempt+1, models.BackoffBase, models.BackoffFactor, models.BackoffMax, models.BackoffJitter)
		r.logger.Warn("remote rate limited, backing off",
			"attempt", attempt+1, "delay", delay)
		r.mu.Lock()
		r.stats.RateLimitWaits++
		r.mu.Unlock()
		if err := r.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// Stats returns a copy of the router counters.
func (r *Router) Stats() RouterStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := RouterStats{
		Fallbacks:      r.stats.Fallbacks,
		StrictRetries:  r.stats.StrictRetries,
		RateLimitWaits: r.stats.RateLimitWaits,
		Calls:          make(map[string]uint64, len(r.stats.Calls)),
		ProviderCalls:  make(map[string]uint64, len(r.stats.ProviderCalls)),
		Failures:       make(map[string]uint64, len(r.stats.Failures)),
	}
	for k, n := range r.stats.Calls {
		out.Calls[k] = n
	}
	for k, n := range r.stats.ProviderCalls {
		out.ProviderCalls[k] = n
	}
	for k, n := range r.stats.Failures {
		out.Failures[k] = n
	}
	return out
}
