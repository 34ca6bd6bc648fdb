package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
)

func newRemoteProvider(t *testing.T, url string) *RemoteProvider {
	t.Helper()
	return NewRemoteProvider(config.RemoteProviderConfig{
		Enabled:  true,
		Endpoint: url,
		Model:    "gemini-2.0-flash",
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	}, slog.Default())
}

func geminiSuccess(text string) remoteGenerateResponse {
	var resp remoteGenerateResponse
	resp.Candidates = []remoteCandidate{{
		Content:      remoteContent{Parts: []remotePart{{Text: text}}},
		FinishReason: "STOP",
	}}
	resp.UsageMetadata.PromptTokenCount = 10
	resp.UsageMetadata.CandidatesTokenCount = 5
	resp.ModelVersion = "gemini-2.0-flash"
	return resp
}

func TestRemoteProvider_Generate(t *testing.T) {
	var got remoteGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(geminiSuccess(`{"ok": true}`))
	}))
	defer srv.Close()

	p := newRemoteProvider(t, srv.URL)
	resp, err := p.Generate(context.Background(), Request{
		Prompt:       "analyze",
		SystemPrompt: "be terse",
		Temperature:  floatPtr(0.4),
		MaxTokens:    64,
	})
	require.NoError(t, err)

	assert.Equal(t, `{"ok": true}`, resp.Text)
	assert.Equal(t, 10, resp.PromptTokens)
	assert.Equal(t, 5, resp.CompletionTokens)

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "analyze", got.Contents[0].Parts[0].Text)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "be terse", got.SystemInstruction.Parts[0].Text)
	require.NotNil(t, got.GenerationConfig)
	assert.Equal(t, 0.4, got.GenerationConfig.Temperature)
	assert.Equal(t, 64, got.GenerationConfig.MaxOutputTokens)
}

func TestRemoteProvider_JoinsMultipleParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := geminiSuccess("")
		resp.Candidates[0].Content.Parts = []remotePart{{Text: `{"a":`}, {Text: ` 1}`}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p := newRemoteProvider(t, srv.URL)
	resp, err := p.Generate(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, resp.Text)
}

func TestRemoteProvider_StatusClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{
			name:    "rate limited",
			status:  http.StatusTooManyRequests,
			body:    `{"error": {"status": "RESOURCE_EXHAUSTED", "message": "slow down"}}`,
			wantErr: ErrRateLimited,
		},
		{
			name:    "quota exhausted",
			status:  http.StatusTooManyRequests,
			body:    `{"error": {"status": "RESOURCE_EXHAUSTED", "message": "You exceeded your current quota"}}`,
			wantErr: ErrQuotaExceeded,
		},
		{
			name:    "bad key",
			status:  http.StatusForbidden,
			body:    `{"error": {"status": "PERMISSION_DENIED", "message": "API key invalid"}}`,
			wantErr: ErrAuth,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error": {"status": "INTERNAL", "message": "boom"}}`,
			wantErr: ErrBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := newRemoteProvider(t, srv.URL)
			_, err := p.Generate(context.Background(), Request{Prompt: "p"})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRemoteProvider_NoCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remoteGenerateResponse{})
	}))
	defer srv.Close()

	p := newRemoteProvider(t, srv.URL)
	_, err := p.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadResponse)
}
