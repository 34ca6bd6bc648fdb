package pipeline

import (
	"sync"
	"time"

	"github.com/voxcut/voxcut/internal/models"
)

// progressMinInterval throttles intermediate progress callbacks. Stage
// boundaries and completions always publish regardless of the interval.
const progressMinInterval = 200 * time.Millisecond

// ProgressEvent is one observation of a run's advancement.
type ProgressEvent struct {
	RunID         models.RunID
	Stage         models.Stage
	StageProgress float64
	Overall       float64
	Detail        string
}

// ProgressFunc receives throttled progress events. It is called from the
// coordinator goroutine and must not block.
type ProgressFunc func(ProgressEvent)

type progressSink struct {
	fn    ProgressFunc
	runID models.RunID

	mu   sync.Mutex
	last time.Time
}

func newProgressSink(runID models.RunID, fn ProgressFunc) *progressSink {
	return &progressSink{fn: fn, runID: runID}
}

// combineProgress fans one event out to both callbacks; either may be nil.
func combineProgress(a, b ProgressFunc) ProgressFunc {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ev ProgressEvent) {
		a(ev)
		b(ev)
	}
}

// publish emits an event unless one was emitted within the throttle window.
// force bypasses the throttle for boundary events.
func (p *progressSink) publish(stage models.Stage, frac float64, detail string, force bool) {
	if p == nil || p.fn == nil {
		return
	}
	now := time.Now()
	p.mu.Lock()
	if !force && now.Sub(p.last) < progressMinInterval {
		p.mu.Unlock()
		return
	}
	p.last = now
	p.mu.Unlock()

	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	p.fn(ProgressEvent{
		RunID:         p.runID,
		Stage:         stage,
		StageProgress: frac,
		Overall:       models.OverallProgress(stage, frac),
		Detail:        detail,
	})
}
