package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/observability"
	"github.com/voxcut/voxcut/pkg/httpclient"
)

// localGenerateRequest is the Ollama native generate payload.
type localGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// localGenerateResponse is the non-streaming Ollama response.
type localGenerateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// LocalProvider speaks the Ollama HTTP API. Local inference is slow, so
// the default timeout is generous.
type LocalProvider struct {
	endpoint string
	model    string
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewLocalProvider creates a provider for an Ollama-compatible endpoint.
func NewLocalProvider(cfg config.LocalProviderConfig, logger *slog.Logger) *LocalProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	hcCfg := httpclient.DefaultConfig()
	hcCfg.Timeout = timeout
	// The router owns retries; the transport gets exactly one shot so a
	// failed local call falls back to remote quickly.
	hcCfg.RetryAttempts = 0
	hcCfg.Logger = observability.WithComponent(logger, "llm-local")

	return &LocalProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client:   httpclient.New(hcCfg),
		logger:   hcCfg.Logger,
	}
}

// Name implements Provider.
func (p *LocalProvider) Name() string {
	return ProviderLocal
}

// Generate implements Provider.
func (p *LocalProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	payload := localGenerateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.TemperatureValue(),
		},
	}
	if req.MaxTokens > 0 {
		payload.Options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out localGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrBadResponse, err)
	}

	p.logger.Debug("local generation complete",
		"model", out.Model,
		"prompt_tokens", out.PromptEvalCount,
		"completion_tokens", out.EvalCount,
		"duration", time.Since(start),
	)

	return &Response{
		Text:             out.Response,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Model:            out.Model,
	}, nil
}

// Healthy implements Provider with a cheap version probe.
func (p *LocalProvider) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := p.client.Get(ctx, p.endpoint+"/api/version")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CircuitStats exposes the transport breaker for status reporting.
func (p *LocalProvider) CircuitStats() httpclient.CircuitBreakerStats {
	return p.client.CircuitStats()
}
