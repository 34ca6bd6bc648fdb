package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voxcut/voxcut/internal/checkpoint"
	"github.com/voxcut/voxcut/internal/llm"
	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/resource"
	"github.com/voxcut/voxcut/internal/translate"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorKind
	}{
		{"item failures", fmt.Errorf("translate: %w", ErrItemFailures), models.ErrKindPartialFailure},
		{"translation below minimum", translate.ErrPartialFailure, models.ErrKindPartialFailure},
		{"selection timeout", ErrSelectionTimeout, models.ErrKindInvalidInput},
		{"stage timeout", fmt.Errorf("%w: fetch", ErrStageTimeout), models.ErrKindTransientNetwork},
		{"gate timeout", resource.ErrAcquireTimeout, models.ErrKindResourceExhausted},
		{"locked checkpoint", checkpoint.ErrAlreadyLocked, models.ErrKindCorruptState},
		{"stage regression", checkpoint.ErrStageRegression, models.ErrKindCorruptState},
		{"rate limited provider", llm.ErrRateLimited, models.ErrKindRateLimited},
		{"unreachable provider", llm.ErrUnreachable, models.ErrKindProviderUnavailable},
		{"schema failure", llm.ErrSchemaFailure, models.ErrKindParseFailure},
		{"bad url", media.ErrInvalidURL, models.ErrKindInvalidInput},
		{"disk full", media.ErrDiskSpace, models.ErrKindResourceExhausted},
		{"cancellation", context.Canceled, models.ErrKindCancelled},
		{"unknown", errors.New("mystery"), models.ErrKindTransientNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyError(tt.err))
		})
	}
}

func TestProgressSinkThrottles(t *testing.T) {
	var events []ProgressEvent
	sink := newProgressSink(models.NewRunID(), func(ev ProgressEvent) {
		events = append(events, ev)
	})

	sink.publish(models.StageFetch, 0.1, "first", false)
	sink.publish(models.StageFetch, 0.2, "suppressed", false)
	sink.publish(models.StageFetch, 0.3, "forced", true)

	assert.Len(t, events, 2)
	assert.Equal(t, "first", events[0].Detail)
	assert.Equal(t, "forced", events[1].Detail)
}

func TestProgressSinkAllowsAfterInterval(t *testing.T) {
	var events []ProgressEvent
	sink := newProgressSink(models.NewRunID(), func(ev ProgressEvent) {
		events = append(events, ev)
	})

	sink.publish(models.StageTranscribe, 0.5, "a", false)
	sink.last = time.Now().Add(-2 * progressMinInterval)
	sink.publish(models.StageTranscribe, 0.6, "b", false)

	assert.Len(t, events, 2)
	assert.InDelta(t, models.OverallProgress(models.StageTranscribe, 0.6), events[1].Overall, 1e-9)
}

func TestProgressSinkNilCallback(t *testing.T) {
	sink := newProgressSink(models.NewRunID(), nil)
	assert.NotPanics(t, func() {
		sink.publish(models.StageFetch, 0.5, "noop", true)
	})
}

func TestProgressSinkClampsFraction(t *testing.T) {
	var events []ProgressEvent
	sink := newProgressSink(models.NewRunID(), func(ev ProgressEvent) {
		events = append(events, ev)
	})

	sink.publish(models.StageFetch, 1.7, "over", true)
	sink.publish(models.StageFetch, -0.2, "under", true)

	assert.Equal(t, 1.0, events[0].StageProgress)
	assert.Equal(t, 0.0, events[1].StageProgress)
}
