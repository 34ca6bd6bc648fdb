package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
)

var routerTestSchema = CompileSchema(`{
	"type": "object",
	"properties": {"ok": {"type": "boolean"}},
	"required": ["ok"]
}`)

type okPayload struct {
	OK bool `json:"ok"`
}

// fakeProvider scripts a sequence of responses and records every request.
type fakeProvider struct {
	name string

	mu      sync.Mutex
	reqs    []Request
	scripts []func(Request) (*Response, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Healthy(ctx context.Context) bool { return true }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if len(f.scripts) == 0 {
		return &Response{Text: `{"ok": true}`, Model: f.name}, nil
	}
	script := f.scripts[0]
	if len(f.scripts) > 1 {
		f.scripts = f.scripts[1:]
	}
	return script(req)
}

func (f *fakeProvider) calls() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.reqs...)
}

func floatPtr(v float64) *float64 { return &v }

func respond(text string) func(Request) (*Response, error) {
	return func(Request) (*Response, error) {
		return &Response{Text: text}, nil
	}
}

func fail(err error) func(Request) (*Response, error) {
	return func(Request) (*Response, error) {
		return nil, err
	}
}

func testRouterConfig() config.LLMConfig {
	return config.LLMConfig{
		FallbackEnabled: true,
		RPM:             6000,
		Temperature:     0.3,
		MaxOutputTokens: 256,
		Routing: map[string]string{
			config.TaskTranslation: "remote",
		},
	}
}

func newTestRouter(t *testing.T, local, remote Provider) *Router {
	t.Helper()
	logger := slog.Default()
	r := NewRouter(testRouterConfig(), local, remote, logger)
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return r
}

func TestRouter_RoutesPerTable(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal}
	remote := &fakeProvider{name: ProviderRemote}
	router := newTestRouter(t, local, remote)

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskTranslation,
		Request{Prompt: "translate"}, routerTestSchema, &out))
	assert.True(t, out.OK)
	assert.Empty(t, local.calls())
	assert.Len(t, remote.calls(), 1)

	require.NoError(t, router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "summarize"}, routerTestSchema, &out))
	assert.Len(t, local.calls(), 1, "unrouted tasks default to local")

	stats := router.Stats()
	assert.Equal(t, uint64(1), stats.Calls[config.TaskTranslation])
	assert.Equal(t, uint64(1), stats.Calls[config.TaskSummary])
	assert.Equal(t, uint64(1), stats.ProviderCalls[ProviderLocal])
	assert.Equal(t, uint64(1), stats.ProviderCalls[ProviderRemote])
}

func TestRouter_FallsBackToRemoteWithStrictPrompt(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal, scripts: []func(Request) (*Response, error){
		fail(fmt.Errorf("%w: connection refused", ErrUnreachable)),
	}}
	remote := &fakeProvider{name: ProviderRemote}
	router := newTestRouter(t, local, remote)

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "summarize this"}, routerTestSchema, &out))
	assert.True(t, out.OK)

	require.Len(t, remote.calls(), 1)
	assert.True(t, strings.HasSuffix(remote.calls()[0].Prompt, StrictSuffix),
		"fallback prompt should carry the strict suffix")
	assert.True(t, strings.HasPrefix(remote.calls()[0].Prompt, "summarize this"))

	stats := router.Stats()
	assert.Equal(t, uint64(1), stats.Fallbacks)
	assert.Equal(t, uint64(1), stats.Failures[ProviderLocal])
}

func TestRouter_FallbackDisabledSurfacesLocalError(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal, scripts: []func(Request) (*Response, error){
		fail(ErrUnreachable),
	}}
	remote := &fakeProvider{name: ProviderRemote}
	cfg := testRouterConfig()
	cfg.FallbackEnabled = false
	router := NewRouter(cfg, local, remote, slog.Default())

	var out okPayload
	err := router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p"}, routerTestSchema, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Empty(t, remote.calls())
}

func TestRouter_StrictRetryOnParseFailure(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal, scripts: []func(Request) (*Response, error){
		respond("I think the answer is probably yes."),
		respond(`{"ok": true}`),
	}}
	router := newTestRouter(t, local, nil)

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p"}, routerTestSchema, &out))

	calls := local.calls()
	require.Len(t, calls, 2)
	assert.True(t, strings.HasSuffix(calls[1].Prompt, StrictSuffix))
	assert.Equal(t, uint64(1), router.Stats().StrictRetries)
}

func TestRouter_QuotaExceededNotRetried(t *testing.T) {
	remote := &fakeProvider{name: ProviderRemote, scripts: []func(Request) (*Response, error){
		fail(ErrQuotaExceeded),
	}}
	router := newTestRouter(t, nil, remote)

	var out okPayload
	err := router.Execute(context.Background(), config.TaskTranslation,
		Request{Prompt: "p"}, routerTestSchema, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Len(t, remote.calls(), 1)
}

func TestRouter_RateLimitBackoffThenSuccess(t *testing.T) {
	remote := &fakeProvider{name: ProviderRemote, scripts: []func(Request) (*Response, error){
		fail(ErrRateLimited),
		fail(ErrRateLimited),
		respond(`{"ok": true}`),
	}}
	router := newTestRouter(t, nil, remote)

	var slept []time.Duration
	router.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskTranslation,
		Request{Prompt: "p"}, routerTestSchema, &out))

	assert.Len(t, remote.calls(), 3)
	require.Len(t, slept, 2)
	assert.Greater(t, slept[1], slept[0], "backoff should grow")
	assert.Equal(t, uint64(2), router.Stats().RateLimitWaits)
}

func TestRouter_RateLimitBudgetExhausted(t *testing.T) {
	remote := &fakeProvider{name: ProviderRemote, scripts: []func(Request) (*Response, error){
		fail(ErrRateLimited),
	}}
	router := newTestRouter(t, nil, remote)

	var out okPayload
	err := router.Execute(context.Background(), config.TaskTranslation,
		Request{Prompt: "p"}, routerTestSchema, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, remote.calls(), rateLimitRetryBudget+1)
}

func TestRouter_LocalRateLimitNotRetried(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal, scripts: []func(Request) (*Response, error){
		fail(ErrRateLimited),
		respond(`{"ok": true}`),
	}}
	cfg := testRouterConfig()
	cfg.FallbackEnabled = false
	router := NewRouter(cfg, local, nil, slog.Default())

	var out okPayload
	err := router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p"}, routerTestSchema, &out)
	require.Error(t, err)
	assert.Len(t, local.calls(), 1)
}

func TestRouter_NoProviderForTask(t *testing.T) {
	router := newTestRouter(t, nil, nil)
	var out okPayload
	err := router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p"}, routerTestSchema, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRouter_DefaultsTemperatureAndBudget(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal}
	router := newTestRouter(t, local, nil)

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p"}, routerTestSchema, &out))

	req := local.calls()[0]
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.3, *req.Temperature)
	assert.Equal(t, 256, req.MaxTokens)
}

func TestRouter_ExplicitZeroTemperatureHonored(t *testing.T) {
	local := &fakeProvider{name: ProviderLocal}
	router := newTestRouter(t, local, nil)

	var out okPayload
	require.NoError(t, router.Execute(context.Background(), config.TaskSummary,
		Request{Prompt: "p", Temperature: floatPtr(0)}, routerTestSchema, &out))

	req := local.calls()[0]
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
}
