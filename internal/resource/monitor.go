// Package resource samples system load and gates the launch of heavyweight
// jobs against configured ceilings. The monitor owns a single sampling
// goroutine; everything else reads its latest snapshot without blocking.
package resource

import (
	"context"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/voxcut/voxcut/internal/observability"
)

// Snapshot is one point-in-time view of system load. GPU fields are only
// meaningful when GPUPresent is set.
type Snapshot struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUPercent       float64   `json:"cpu_percent"`
	MemoryPercent    float64   `json:"memory_percent"`
	MemoryAvailable  uint64    `json:"memory_available_bytes"`
	DiskReadBps      float64   `json:"disk_read_bps"`
	DiskWriteBps     float64   `json:"disk_write_bps"`
	GPUPresent       bool      `json:"gpu_present"`
	GPUPercent       float64   `json:"gpu_percent"`
	GPUMemoryPercent float64   `json:"gpu_memory_percent"`
}

// Sampler produces snapshots. The production sampler reads gopsutil and
// nvidia-smi; tests inject canned values.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// Monitor runs a Sampler on a fixed interval and retains the most recent
// snapshot. Start and Stop are explicit; Snapshot never blocks.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	latest Snapshot

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a Monitor with the given sampler and interval.
func NewMonitor(sampler Sampler, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{
		sampler:  sampler,
		interval: interval,
		logger:   observability.WithComponent(logger, "resource-monitor"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start takes an initial sample synchronously, then launches the sampling
// goroutine. The context bounds individual samples, not the monitor's life.
func (m *Monitor) Start(ctx context.Context) {
	if snap, err := m.sampler.Sample(ctx); err == nil {
		m.mu.Lock()
		m.latest = snap
		m.mu.Unlock()
	} else {
		m.logger.Warn("initial resource sample failed", "error", err)
	}

	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.interval)
			snap, err := m.sampler.Sample(ctx)
			cancel()
			if err != nil {
				m.logger.Warn("resource sample failed", "error", err)
				continue
			}
			m.mu.Lock()
			m.latest = snap
			m.mu.Unlock()
		}
	}
}

// Stop terminates the sampling goroutine and waits for it to exit.
// Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
}

// Snapshot returns the most recent sample without blocking.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// SystemSampler reads load via gopsutil and, when available, nvidia-smi.
// Disk rates are derived from counter deltas between consecutive samples.
type SystemSampler struct {
	mu            sync.Mutex
	lastDiskRead  uint64
	lastDiskWrite uint64
	lastDiskTime  time.Time

	gpuChecked bool
	gpuPresent bool
}

// NewSystemSampler creates the production sampler.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// Sample implements Sampler.
func (s *SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Timestamp: time.Now()}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryAvailable = vm.Available
	}

	s.sampleDiskRates(ctx, &snap)
	s.sampleGPU(ctx, &snap)

	return snap, nil
}

func (s *SystemSampler) sampleDiskRates(ctx context.Context, snap *Snapshot) {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil {
		return
	}
	var read, write uint64
	for _, c := range counters {
		read += c.ReadBytes
		write += c.WriteBytes
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if !s.lastDiskTime.IsZero() {
		elapsed := now.Sub(s.lastDiskTime).Seconds()
		if elapsed > 0 && read >= s.lastDiskRead && write >= s.lastDiskWrite {
			snap.DiskReadBps = float64(read-s.lastDiskRead) / elapsed
			snap.DiskWriteBps = float64(write-s.lastDiskWrite) / elapsed
		}
	}
	s.lastDiskRead = read
	s.lastDiskWrite = write
	s.lastDiskTime = now
}

// sampleGPU queries nvidia-smi. Absence of the binary is cached so a box
// without a GPU pays the lookup cost once.
func (s *SystemSampler) sampleGPU(ctx context.Context, snap *Snapshot) {
	s.mu.Lock()
	if s.gpuChecked && !s.gpuPresent {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()

	s.mu.Lock()
	s.gpuChecked = true
	if err != nil {
		s.gpuPresent = false
		s.mu.Unlock()
		return
	}
	s.gpuPresent = true
	s.mu.Unlock()

	// With multiple GPUs the busiest one bounds admission.
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		parts := strings.Split(line, ", ")
		if len(parts) < 3 {
			continue
		}
		util, _ := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		memUsed, _ := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		memTotal, _ := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)

		snap.GPUPresent = true
		if util > snap.GPUPercent {
			snap.GPUPercent = util
		}
		if memTotal > 0 {
			memPct := memUsed / memTotal * 100
			if memPct > snap.GPUMemoryPercent {
				snap.GPUMemoryPercent = memPct
			}
		}
	}
}
