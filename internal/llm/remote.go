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

// Gemini-style request/response shapes.
type remotePart struct {
	Text string `json:"text"`
}

type remoteContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []remotePart `json:"parts"`
}

type remoteGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type remoteGenerateRequest struct {
	Contents          []remoteContent         `json:"contents"`
	SystemInstruction *remoteContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *remoteGenerationConfig `json:"generationConfig,omitempty"`
}

type remoteCandidate struct {
	Content      remoteContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type remoteGenerateResponse struct {
	Candidates []remoteCandidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type remoteErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// RemoteProvider speaks a Gemini-style generateContent HTTP API. It has
// the richer capability set and serves as the fallback for local failures.
type RemoteProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *httpclient.Client
	logger   *slog.Logger
}

// NewRemoteProvider creates a provider for the hosted endpoint.
func NewRemoteProvider(cfg config.RemoteProviderConfig, logger *slog.Logger) *RemoteProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	hcCfg := httpclient.DefaultConfig()
	hcCfg.Timeout = timeout
	// The router owns retry and backoff semantics (rate limits need
	// honored delays, not the transport's fixed schedule).
	hcCfg.RetryAttempts = 0
	hcCfg.Logger = observability.WithComponent(logger, "llm-remote")

	return &RemoteProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   httpclient.New(hcCfg),
		logger:   hcCfg.Logger,
	}
}

// Name implements Provider.
func (p *RemoteProvider) Name() string {
	return ProviderRemote
}

// Generate implements Provider.
func (p *RemoteProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	payload := remoteGenerateRequest{
		Contents: []remoteContent{
			{Role: "user", Parts: []remotePart{{Text: req.Prompt}}},
		},
		GenerationConfig: &remoteGenerationConfig{
			Temperature:     req.TemperatureValue(),
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &remoteContent{Parts: []remotePart{{Text: req.SystemPrompt}}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", p.endpoint, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp)
	}

	var out remoteGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrBadResponse, err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates returned", ErrBadResponse)
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	p.logger.Debug("remote generation complete",
		"model", out.ModelVersion,
		"prompt_tokens", out.UsageMetadata.PromptTokenCount,
		"completion_tokens", out.UsageMetadata.CandidatesTokenCount,
		"finish_reason", out.Candidates[0].FinishReason,
		"duration", time.Since(start),
	)

	return &Response{
		Text:             text.String(),
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
		Model:            out.ModelVersion,
	}, nil
}

// classifyStatus maps a non-200 response onto the provider sentinels.
// Quota exhaustion and rate limiting share HTTP 429; the status string
// distinguishes them.
func (p *RemoteProvider) classifyStatus(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr remoteErrorResponse
	_ = json.Unmarshal(data, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		if strings.Contains(strings.ToLower(apiErr.Error.Status+msg), "quota") {
			return fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)
		}
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, msg)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrBadResponse, resp.StatusCode, msg)
	}
}

// Healthy implements Provider. Remote health is judged by the breaker
// rather than a paid probe call.
func (p *RemoteProvider) Healthy(ctx context.Context) bool {
	return p.client.CircuitState() != httpclient.CircuitOpen
}

// CircuitStats exposes the transport breaker for status reporting.
func (p *RemoteProvider) CircuitStats() httpclient.CircuitBreakerStats {
	return p.client.CircuitStats()
}
