package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Item is one checkpointable unit of stage work. Run reports its own
// progress as a fraction of the item.
type Item struct {
	ID  string
	Run func(ctx context.Context, progress func(frac float64, detail string)) error
}

// ItemReport is the outcome of running a stage's item list.
type ItemReport struct {
	Total     int
	Completed int
	Skipped   int
	Failed    int
	Errors    map[string]error
}

// SuccessRate counts skipped items as done; they completed in an earlier
// process of the same run.
func (r *ItemReport) SuccessRate() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Completed+r.Skipped) / float64(r.Total)
}

// RunItems drives a stage's items sequentially, persisting the checkpoint
// after each completed item and skipping items the checkpoint already marks
// complete. Individual item failures are collected; the returned error is
// non-nil only when the success rate falls below minSuccessRate or the
// context is done. Cancellation between items returns immediately with the
// work completed so far already persisted.
func (st *State) RunItems(ctx context.Context, items []Item, minSuccessRate float64, itemTimeout time.Duration) (*ItemReport, error) {
	report := &ItemReport{Total: len(items), Errors: make(map[string]error)}
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if st.cp.CompletedItems.Has(item.ID) {
			report.Skipped++
			continue
		}

		st.cp.CurrentItem = item.ID
		st.cp.CurrentItemProgress = 0

		done := float64(report.Completed + report.Skipped + report.Failed)
		itemCtx := ctx
		cancel := context.CancelFunc(func() {})
		if itemTimeout > 0 {
			itemCtx, cancel = context.WithTimeout(ctx, itemTimeout)
		}
		err := item.Run(itemCtx, func(frac float64, detail string) {
			st.cp.CurrentItemProgress = frac
			st.publish((done+frac)/float64(len(items)), detail)
		})
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			report.Errors[item.ID] = err
			st.cp.LastError = fmt.Sprintf("item %s: %v", item.ID, err)
			st.Logger.Warn("item failed", "item", item.ID, "error", err)
			continue
		}

		report.Completed++
		st.cp.CompletedItems.Add(item.ID)
		st.cp.CurrentItem = ""
		st.cp.CurrentItemProgress = 0
		st.cp.StageProgress = float64(report.Completed+report.Skipped) / float64(len(items))
		if err := st.save(); err != nil {
			return report, err
		}
		st.publish(float64(i+1)/float64(len(items)), "item "+item.ID+" complete")
	}

	if report.SuccessRate() < minSuccessRate {
		return report, fmt.Errorf("%w: %d of %d items failed", ErrItemFailures, report.Failed, report.Total)
	}
	return report, nil
}
