package resource

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxcut/voxcut/internal/config"
)

// fakeSampler returns a settable snapshot.
type fakeSampler struct {
	mu   sync.Mutex
	snap Snapshot
}

func (f *fakeSampler) Sample(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.snap
	s.Timestamp = time.Now()
	return s, nil
}

func (f *fakeSampler) set(snap Snapshot) {
	f.mu.Lock()
	f.snap = snap
	f.mu.Unlock()
}

func testResourceConfig() config.ResourceConfig {
	return config.ResourceConfig{
		SampleInterval:     10 * time.Millisecond,
		MaxCPUPercent:      80,
		MaxMemoryPercent:   70,
		MaxGPUPercent:      90,
		MaxParallelExports: 2,
		MaxParallelEncodes: 1,
	}
}

// idleMonitor returns a started monitor reporting an idle system. Stopped
// on test cleanup.
func idleMonitor(t *testing.T, sampler *fakeSampler) *Monitor {
	t.Helper()
	if (sampler.snap == Snapshot{}) {
		sampler.set(Snapshot{CPUPercent: 10, MemoryPercent: 20})
	}
	m := NewMonitor(sampler, 10*time.Millisecond, slog.Default())
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func TestMonitor_SnapshotUpdates(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set(Snapshot{CPUPercent: 15})
	m := idleMonitor(t, sampler)

	assert.InDelta(t, 15, m.Snapshot().CPUPercent, 1e-9)

	sampler.set(Snapshot{CPUPercent: 55})
	require.Eventually(t, func() bool {
		return m.Snapshot().CPUPercent == 55
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	m.Stop()
	m.Stop()
}

func TestGate_AdmitsIdleSystem(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	assert.True(t, g.CanStart(JobKindExport))
	ticket, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	ticket.Release()
}

func TestGate_RefusesLoadedSystem(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
	}{
		{"cpu over ceiling", Snapshot{CPUPercent: 95, MemoryPercent: 20}},
		{"memory over ceiling", Snapshot{CPUPercent: 10, MemoryPercent: 85}},
		{"gpu over ceiling", Snapshot{CPUPercent: 10, MemoryPercent: 20, GPUPresent: true, GPUPercent: 95}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := &fakeSampler{}
			sampler.set(tt.snap)
			m := idleMonitor(t, sampler)
			g := NewGate(m, testResourceConfig(), slog.Default())

			_, ok := g.TryAcquire(JobKindExport)
			assert.False(t, ok)
		})
	}
}

func TestGate_GPUIgnoredWhenAbsent(t *testing.T) {
	sampler := &fakeSampler{}
	// High GPU numbers but no GPU present: must not block admission.
	sampler.set(Snapshot{CPUPercent: 10, MemoryPercent: 20, GPUPercent: 99})
	m := idleMonitor(t, sampler)
	g := NewGate(m, testResourceConfig(), slog.Default())

	ticket, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	ticket.Release()
}

func TestGate_ParallelExportCap(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	t1, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	t2, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)

	_, ok = g.TryAcquire(JobKindExport)
	assert.False(t, ok, "third job must wait, cap is 2")

	t1.Release()
	t3, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	t2.Release()
	t3.Release()
}

func TestGate_EncodeCapTighterThanExportCap(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	enc, ok := g.TryAcquire(JobKindEncode)
	require.True(t, ok)

	// Second encode refused even though total slots remain.
	_, ok = g.TryAcquire(JobKindEncode)
	assert.False(t, ok)

	// A plain export still fits.
	exp, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)

	enc.Release()
	exp.Release()
}

func TestGate_SaturatedExportsStillAdmitEncodes(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	e1, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	defer e1.Release()
	e2, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	defer e2.Release()

	// Each batch request holds its export ticket while its run encodes
	// through the same gate, so a full export cap must not starve encode
	// admission.
	assert.True(t, g.CanStart(JobKindEncode))
	enc, ok := g.TryAcquire(JobKindEncode)
	require.True(t, ok)
	enc.Release()
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	t1, ok := g.TryAcquire(JobKindExport)
	require.True(t, ok)
	t1.Release()
	t1.Release()

	assert.Zero(t, g.Stats().ActiveJobs)
}

func TestGate_AcquireTimesOut(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set(Snapshot{CPUPercent: 99, MemoryPercent: 20})
	m := idleMonitor(t, sampler)
	g := NewGate(m, testResourceConfig(), slog.Default())

	start := time.Now()
	_, err := g.Acquire(context.Background(), JobKindExport, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, uint64(1), g.Stats().Timeouts)
}

func TestGate_AcquireRespectsContextCancel(t *testing.T) {
	sampler := &fakeSampler{}
	sampler.set(Snapshot{CPUPercent: 99, MemoryPercent: 20})
	m := idleMonitor(t, sampler)
	g := NewGate(m, testResourceConfig(), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Acquire(ctx, JobKindExport, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGate_PredicateTrueAtAcquire(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	cfg := testResourceConfig()
	cfg.MaxParallelExports = 4
	g := NewGate(m, cfg, slog.Default())

	// Hammer the gate from many goroutines; occupancy must never exceed
	// the cap at any observable instant.
	var mu sync.Mutex
	maxSeen := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ticket, ok := g.TryAcquire(JobKindExport)
				if !ok {
					continue
				}
				active := g.Stats().ActiveJobs
				mu.Lock()
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				ticket.Release()
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, 4)
	assert.Zero(t, g.Stats().ActiveJobs)
}

func TestGate_StatsCountEncodes(t *testing.T) {
	m := idleMonitor(t, &fakeSampler{})
	g := NewGate(m, testResourceConfig(), slog.Default())

	enc, ok := g.TryAcquire(JobKindEncode)
	require.True(t, ok)
	defer enc.Release()

	s := g.Stats()
	assert.Equal(t, 1, s.ActiveJobs)
	assert.Equal(t, 1, s.ActiveEncodes)
	assert.Equal(t, uint64(1), s.Admitted)
}
