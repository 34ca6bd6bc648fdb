package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voxcut/voxcut/internal/analyze"
	"github.com/voxcut/voxcut/internal/api"
	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/janitor"
	"github.com/voxcut/voxcut/internal/library"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/pipeline"
	"github.com/voxcut/voxcut/internal/resource"
	"github.com/voxcut/voxcut/internal/translate"
	"github.com/voxcut/voxcut/pkg/httpclient"
)

// app bundles the wired components behind one lifecycle.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	store       *checkpoint.Store
	library     *library.Store
	coordinator *pipeline.Coordinator
	monitor     *resource.Monitor
	gate        *resource.Gate
	janitor     *janitor.Janitor
	local       *llm.LocalProvider
	remote      *llm.RemoteProvider
	router      *llm.Router
}

// buildApp constructs the full pipeline wiring from configuration. The
// resource monitor and janitor start immediately; close releases them.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := checkpoint.NewStore(cfg.StateRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state root: %w", err)
	}

	lib, err := library.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("opening run library: %w", err)
	}

	monitor := resource.NewMonitor(resource.NewSystemSampler(), cfg.Resource.SampleInterval, logger)
	monitor.Start(ctx)
	gate := resource.NewGate(monitor, cfg.Resource, logger)

	local := llm.NewLocalProvider(cfg.LLM.Local, logger)
	remote := llm.NewRemoteProvider(cfg.LLM.Remote, logger)
	router := llm.NewRouter(cfg.LLM, local, remote, logger)

	collab := pipeline.Collaborators{
		Fetcher:     media.NewYTDLPFetcher(cfg.Media, logger),
		Extractor:   media.NewFFmpegAudioExtractor(cfg.Media, logger),
		Transcriber: media.NewWhisperTranscriber(cfg.Media, logger),
		Editor:      media.NewFFmpegEditor(cfg.Media, logger),
		Analyzer:    analyze.NewAnalyzer(router, cfg.Analysis, logger),
		Translator:  translate.NewTranslator(router, cfg.Translation, logger),
	}

	coordinator := pipeline.NewCoordinator(cfg, store, collab, logger)
	coordinator.SetGate(gate)
	coordinator.SetRecorder(lib)

	a := &app{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		library:     lib,
		coordinator: coordinator,
		monitor:     monitor,
		gate:        gate,
		local:       local,
		remote:      remote,
		router:      router,
	}

	if cfg.Janitor.Enabled {
		a.janitor = janitor.New(store, cfg, logger)
		if err := a.janitor.Start(ctx); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.janitor != nil {
		a.janitor.Stop()
	}
	a.monitor.Stop()
	if err := a.library.Close(); err != nil {
		a.logger.Warn("closing run library", "error", err)
	}
}

// serveAPI starts the status API when enabled and returns a shutdown func.
func (a *app) serveAPI(ctx context.Context) func() {
	if !a.cfg.Server.Enabled {
		return func() {}
	}

	server := api.NewServer(a.cfg.Server, a.logger)
	api.NewHandler(a.store, a.coordinator).
		WithLibrary(a.library).
		WithMonitor(a.monitor).
		WithGate(a.gate).
		WithRouter(a.router).
		WithCircuitStats(func() map[string]httpclient.CircuitBreakerStats {
			return map[string]httpclient.CircuitBreakerStats{
				llm.ProviderLocal:  a.local.CircuitStats(),
				llm.ProviderRemote: a.remote.CircuitStats(),
			}
		}).
		Register(server.API())

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.ListenAndServe(serveCtx); err != nil {
			a.logger.Error("status API failed", "error", err)
		}
	}()
	return func() {
		cancel()
		<-done
	}
}
