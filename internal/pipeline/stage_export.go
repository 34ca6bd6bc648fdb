package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/storage"
)

type exportStage struct {
	outputDir string
}

func (s *exportStage) ID() models.Stage { return models.StageExport }
func (s *exportStage) Name() string     { return "export" }

func (s *exportStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	plan := st.ExportPlan()
	if plan == nil {
		var err error
		if plan, err = s.buildPlan(st); err != nil {
			return nil, err
		}
		if err := st.SetExportPlan(plan); err != nil {
			return nil, err
		}
	}

	box, err := storage.NewSandbox(s.outputDir)
	if err != nil {
		return nil, err
	}

	sources, err := s.stageSources(st)
	if err != nil {
		return nil, err
	}

	var (
		results []models.ExportItemResult
		items   []Item
	)
	for _, entry := range plan.Entries {
		items = append(items, Item{
			ID: entry.TargetPath,
			Run: func(ctx context.Context, progress func(float64, string)) error {
				progress(0, "publishing "+entry.TargetPath)
				src, ok := sources[entry.TargetPath]
				if !ok {
					return fmt.Errorf("no source for export entry %s", entry.TargetPath)
				}
				if err := box.AtomicPublish(src, entry.TargetPath); err != nil {
					return err
				}
				abs, err := box.ResolvePath(entry.TargetPath)
				if err != nil {
					return err
				}
				info, err := os.Stat(abs)
				if err != nil {
					return err
				}
				results = append(results, models.ExportItemResult{
					ID:       entry.TargetPath,
					Path:     abs,
					Bytes:    info.Size(),
					Attempts: 1,
				})
				return nil
			},
		})
	}

	report, err := st.RunItems(ctx, items, 1.0, st.Config.Stage.ItemTimeout)
	if err != nil {
		return nil, err
	}

	for id, ierr := range report.Errors {
		results = append(results, models.ExportItemResult{ID: id, Error: ierr.Error(), Attempts: 1})
	}
	result := &models.ExportResult{
		Successful: report.Completed + report.Skipped,
		Failed:     report.Failed,
		Items:      results,
	}
	if err := st.SetExportResult(result); err != nil {
		return nil, err
	}
	return &StageResult{
		Summary: fmt.Sprintf("published %d of %d files", result.Successful, report.Total),
		Partial: result.Failed > 0,
	}, nil
}

func (s *exportStage) Cleanup(context.Context, *State) {}

// buildPlan enumerates the run's derivative files once; the plan is stored
// on the checkpoint and reused verbatim on resume.
func (s *exportStage) buildPlan(st *State) (*models.ExportPlan, error) {
	if len(st.EditedVideos()) == 0 {
		return nil, fmt.Errorf("no edited video to export")
	}
	prefix := st.RunID.String()

	plan := &models.ExportPlan{RunID: st.RunID}
	for i, vid := range st.EditedVideos() {
		name := fmt.Sprintf("clip_%02d.mp4", i+1)
		plan.Entries = append(plan.Entries, models.ExportPlanEntry{
			Kind:           "video",
			TargetPath:     filepath.Join(prefix, name),
			EstimatedBytes: vid.Bytes,
		})
	}
	for _, sub := range st.Subtitles() {
		plan.Entries = append(plan.Entries, models.ExportPlanEntry{
			Kind:       "subtitle",
			TargetPath: filepath.Join(prefix, filepath.Base(sub.Path)),
		})
	}
	plan.Entries = append(plan.Entries,
		models.ExportPlanEntry{Kind: "transcript", TargetPath: filepath.Join(prefix, "transcript.json")},
		models.ExportPlanEntry{Kind: "project", TargetPath: filepath.Join(prefix, "project.json")},
	)
	sort.Slice(plan.Entries, func(a, b int) bool {
		return plan.Entries[a].TargetPath < plan.Entries[b].TargetPath
	})
	return plan, nil
}

// stageSources materializes every plan entry's source file, writing the
// generated JSON documents into the run's scratch directory.
func (s *exportStage) stageSources(st *State) (map[string]string, error) {
	tmp, err := st.TempDir()
	if err != nil {
		return nil, err
	}
	exportDir := filepath.Join(tmp, "export")
	if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, err
	}
	prefix := st.RunID.String()

	sources := make(map[string]string)
	for i, vid := range st.EditedVideos() {
		name := fmt.Sprintf("clip_%02d.mp4", i+1)
		sources[filepath.Join(prefix, name)] = vid.Path
	}
	for _, sub := range st.Subtitles() {
		sources[filepath.Join(prefix, filepath.Base(sub.Path))] = sub.Path
	}

	transcript := filepath.Join(exportDir, "transcript.json")
	if err := writeJSON(transcript, st.Transcription()); err != nil {
		return nil, err
	}
	sources[filepath.Join(prefix, "transcript.json")] = transcript

	project := filepath.Join(exportDir, "project.json")
	if err := writeJSON(project, st.Project); err != nil {
		return nil, err
	}
	sources[filepath.Join(prefix, "project.json")] = project

	return sources, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
