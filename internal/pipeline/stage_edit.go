package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/models"
	"github.com/voxcut/voxcut/internal/resource"
)

// gateAcquireTimeout bounds how long an edit waits for encode capacity when
// no stage timeout is configured.
const gateAcquireTimeout = 10 * time.Minute

type editStage struct {
	editor media.VideoEditor
	gate   *resource.Gate
}

func (s *editStage) ID() models.Stage { return models.StageEdit }
func (s *editStage) Name() string     { return "edit_video" }

func (s *editStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if vids := st.EditedVideos(); len(vids) > 0 {
		if _, err := os.Stat(vids[0].Path); err == nil {
			return &StageResult{Summary: "edit already rendered"}, nil
		}
	}
	video := st.Video()
	if video == nil {
		return nil, fmt.Errorf("no video artifact to edit")
	}
	sel := st.Selection()
	if sel == nil || len(sel.EditSegments) == 0 {
		return nil, fmt.Errorf("%w: selection has no edit segments", media.ErrInvalidSegment)
	}

	if s.gate != nil {
		timeout := st.Config.Stage.Timeout
		if timeout <= 0 {
			timeout = gateAcquireTimeout
		}
		ticket, err := s.gate.Acquire(ctx, resource.JobKindEncode, timeout)
		if err != nil {
			return nil, err
		}
		defer ticket.Release()
	}

	tmp, err := st.TempDir()
	if err != nil {
		return nil, err
	}
	job := media.EditJob{
		VideoPath:  video.Path,
		Segments:   sel.EditSegments,
		OutputPath: filepath.Join(tmp, "edit", "edit.mp4"),
		Vertical:   st.Options.Vertical,
		Resolution: st.Options.Resolution,
	}
	if st.Options.BurnSubtitles {
		job.SubtitlePath = burnTrack(st)
	}

	out, err := s.editor.Edit(ctx, job, func(frac float64, detail string) {
		st.publish(frac, detail)
	})
	if err != nil {
		return nil, err
	}
	if err := st.SetEditedVideos([]models.EditedVideo{*out}); err != nil {
		return nil, err
	}
	return &StageResult{Summary: fmt.Sprintf("rendered %.0fs cut", out.DurationS)}, nil
}

func (s *editStage) Cleanup(context.Context, *State) {}

// burnTrack picks the subtitle file to hard-burn: the first target language
// with a written track, else the first track available.
func burnTrack(st *State) string {
	subs := st.Subtitles()
	if len(subs) == 0 {
		return ""
	}
	for _, lang := range st.TargetLanguages() {
		for _, sub := range subs {
			if sub.Language == lang {
				return sub.Path
			}
		}
	}
	return subs[0].Path
}
