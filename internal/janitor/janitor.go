// Package janitor runs scheduled maintenance over the state root: expired
// checkpoints are swept and orphaned scratch directories removed.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// orphanMaxAge is how long a non-run entry may sit in the state root before
// the sweep removes it.
const orphanMaxAge = 24 * time.Hour

// Sweeper removes expired run state. Satisfied by checkpoint.Store.
type Sweeper interface {
	Sweep(maxAge time.Duration) (int, error)
}

// Report summarizes one maintenance pass.
type Report struct {
	ExpiredRuns    int
	OrphansRemoved int
}

// Janitor schedules periodic maintenance sweeps.
type Janitor struct {
	sweeper   Sweeper
	stateRoot string
	schedule  string
	expire    time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// New builds a janitor over the given checkpoint store.
func New(sweeper Sweeper, cfg *config.Config, logger *slog.Logger) *Janitor {
	schedule := cfg.Janitor.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Janitor{
		sweeper:   sweeper,
		stateRoot: cfg.StateRoot,
		schedule:  schedule,
		expire:    cfg.Checkpoint.ExpireAfter,
		logger:    observability.WithComponent(logger, "janitor"),
	}
}

// Start begins the scheduled sweeps. It validates the schedule and runs one
// pass immediately so a long schedule does not delay overdue cleanup.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return fmt.Errorf("janitor already started")
	}

	c := cron.New()
	_, err := c.AddFunc(j.schedule, func() {
		if _, err := j.SweepNow(ctx); err != nil {
			j.logger.Warn("maintenance sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.schedule, err)
	}

	c.Start()
	j.cron = c
	j.logger.Info("janitor started", "schedule", j.schedule, "expire_after", j.expire)

	go func() {
		if _, err := j.SweepNow(ctx); err != nil {
			j.logger.Warn("initial maintenance sweep failed", "error", err)
		}
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger.Info("janitor stopped")
}

// SweepNow runs one maintenance pass: expired checkpoints first, then
// orphaned entries in the state root.
func (j *Janitor) SweepNow(ctx context.Context) (Report, error) {
	var report Report

	expired, err := j.sweeper.Sweep(j.expire)
	if err != nil {
		return report, fmt.Errorf("sweeping checkpoints: %w", err)
	}
	report.ExpiredRuns = expired

	orphans, err := j.removeOrphans(ctx)
	if err != nil {
		return report, err
	}
	report.OrphansRemoved = orphans

	if report.ExpiredRuns > 0 || report.OrphansRemoved > 0 {
		j.logger.Info("maintenance sweep complete",
			"expired_runs", report.ExpiredRuns,
			"orphans_removed", report.OrphansRemoved)
	}
	return report, nil
}

// removeOrphans deletes state-root entries that are not run directories and
// have not been touched within orphanMaxAge. Run directories themselves are
// the checkpoint store's to manage.
func (j *Janitor) removeOrphans(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.stateRoot)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing state root: %w", err)
	}

	cutoff := time.Now().Add(-orphanMaxAge)
	removed := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if _, err := models.ParseRunID(entry.Name()); err == nil {
			continue
		}
		path := filepath.Join(j.stateRoot, entry.Name())
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			j.logger.Warn("failed to remove orphan", "path", path, "error", err)
			continue
		}
		j.logger.Debug("removed orphaned state entry", "path", path)
		removed++
	}
	return removed, nil
}
