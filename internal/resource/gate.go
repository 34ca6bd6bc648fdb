package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/observability"
)

// JobKind classifies admitted work for the per-kind caps.
type JobKind string

const (
	// JobKindExport is a whole batch-export unit of work.
	JobKindExport JobKind = "export"
	// JobKindEncode is an ffmpeg encode; capped harder than exports
	// because a single encode saturates the machine.
	JobKindEncode JobKind = "encode"
)

// ErrAcquireTimeout is returned when the admission predicate stayed false
// for the whole acquire window.
var ErrAcquireTimeout = errors.New("resource gate acquire timed out")

// gatePollInterval is how often a blocked Acquire re-evaluates admission.
const gatePollInterval = time.Second

// Gate admits jobs when the latest resource snapshot and the live job
// registry are both under their ceilings. Registry mutation and predicate
// evaluation share one mutex so a returned ticket implies the predicate
// held at the instant of admission.
type Gate struct {
	monitor *Monitor
	cfg     config.ResourceConfig
	logger  *slog.Logger

	mu     sync.Mutex
	active map[*Ticket]JobKind
	nextID uint64
	stats  GateStats
}

// GateStats is a point-in-time view of the gate for status reporting.
type GateStats struct {
	ActiveJobs    int    `json:"active_jobs"`
	ActiveEncodes int    `json:"active_encodes"`
	Admitted      uint64 `json:"admitted"`
	Rejected      uint64 `json:"rejected"`
	Timeouts      uint64 `json:"timeouts"`
}

// Ticket represents one admitted job. Release is mandatory and idempotent.
type Ticket struct {
	gate *Gate
	kind JobKind
	id   uint64
	once sync.Once
}

// Kind returns the job kind this ticket admitted.
func (t *Ticket) Kind() JobKind {
	return t.kind
}

// Release returns the ticket's slot to the gate.
func (t *Ticket) Release() {
	t.once.Do(func() {
		t.gate.mu.Lock()
		delete(t.gate.active, t)
		t.gate.mu.Unlock()
	})
}

// NewGate creates a Gate over the given monitor.
func NewGate(monitor *Monitor, cfg config.ResourceConfig, logger *slog.Logger) *Gate {
	return &Gate{
		monitor: monitor,
		cfg:     cfg,
		logger:  observability.WithComponent(logger, "resource-gate"),
		active:  make(map[*Ticket]JobKind),
	}
}

// CanStart reports whether a job of the given kind would be admitted right
// now. Purely advisory; use TryAcquire to actually claim a slot.
func (g *Gate) CanStart(kind JobKind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.admissible(kind) == ""
}

// TryAcquire admits a job if the predicate holds, returning a ticket. The
// predicate is evaluated under the registry mutex, so admission and
// registration are one atomic step.
func (g *Gate) TryAcquire(kind JobKind) (*Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if reason := g.admissible(kind); reason != "" {
		g.stats.Rejected++
		g.logger.Debug("admission refused", "kind", kind, "reason", reason)
		return nil, false
	}

	g.nextID++
	t := &Ticket{gate: g, kind: kind, id: g.nextID}
	g.active[t] = kind
	g.stats.Admitted++
	return t, true
}

// Acquire blocks until a job of the given kind is admitted, polling once a
// second, or until the timeout or context expires. A zero timeout waits on
// the context alone.
func (g *Gate) Acquire(ctx context.Context, kind JobKind, timeout time.Duration) (*Ticket, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if t, ok := g.TryAcquire(kind); ok {
		return t, nil
	}

	ticker := time.NewTicker(gatePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.mu.Lock()
			g.stats.Timeouts++
			g.mu.Unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s (kind %s)", ErrAcquireTimeout, timeout, kind)
			}
			return nil, ctx.Err()
		case <-ticker.C:
			if t, ok := g.TryAcquire(kind); ok {
				return t, nil
			}
		}
	}
}

// admissible evaluates the predicate and returns an empty string when the
// job may start, or the violated ceiling. Caller holds g.mu.
func (g *Gate) admissible(kind JobKind) string {
	snap := g.monitor.Snapshot()

	if snap.CPUPercent >= g.cfg.MaxCPUPercent {
		return fmt.Sprintf("cpu %.1f%% >= %.1f%%", snap.CPUPercent, g.cfg.MaxCPUPercent)
	}
	if snap.MemoryPercent >= g.cfg.MaxMemoryPercent {
		return fmt.Sprintf("memory %.1f%% >= %.1f%%", snap.MemoryPercent, g.cfg.MaxMemoryPercent)
	}
	if snap.GPUPresent && snap.GPUPercent >= g.cfg.MaxGPUPercent {
		return fmt.Sprintf("gpu %.1f%% >= %.1f%%", snap.GPUPercent, g.cfg.MaxGPUPercent)
	}
	// Caps are per kind. An export ticket is held for the whole batch
	// request while its run acquires encode slots from the same gate, so
	// counting exports against the encode cap would deadlock the batch.
	exports, encodes := 0, 0
	for _, k := range g.active {
		switch k {
		case JobKindExport:
			exports++
		case JobKindEncode:
			encodes++
		}
	}
	switch kind {
	case JobKindExport:
		if exports >= g.cfg.MaxParallelExports {
			return fmt.Sprintf("active exports %d >= %d", exports, g.cfg.MaxParallelExports)
		}
	case JobKindEncode:
		if encodes >= g.cfg.MaxParallelEncodes {
			return fmt.Sprintf("active encodes %d >= %d", encodes, g.cfg.MaxParallelEncodes)
		}
	}
	return ""
}

// Stats returns a copy of the gate counters plus current occupancy.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	s.ActiveJobs = len(g.active)
	for _, k := range g.active {
		if k == JobKindEncode {
			s.ActiveEncodes++
		}
	}
	return s
}

// ClassifyError maps gate errors onto the pipeline taxonomy.
func ClassifyError(err error) models.ErrorKind {
	if errors.Is(err, ErrAcquireTimeout) {
		return models.ErrKindResourceExhausted
	}
	return models.KindOf(err)
}
