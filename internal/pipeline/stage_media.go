package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxcut/voxcut/internal/media"
	"github.com/voxcut/voxcut/internal/models"
)

type fetchStage struct {
	fetcher media.Fetcher
}

func (s *fetchStage) ID() models.Stage { return models.StageFetch }
func (s *fetchStage) Name() string     { return "fetch" }

func (s *fetchStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if v := st.Video(); v != nil {
		if _, err := os.Stat(v.Path); err == nil {
			return &StageResult{Summary: "video already on disk"}, nil
		}
	}

	tmp, err := st.TempDir()
	if err != nil {
		return nil, err
	}
	quality := st.Options.Quality
	if quality == "" {
		quality = st.Config.Media.Quality
	}
	video, err := s.fetcher.Fetch(ctx, st.SourceURL, media.FetchOptions{
		Quality:   quality,
		OutputDir: filepath.Join(tmp, "source"),
	}, func(frac float64, detail string) {
		st.publish(frac, detail)
	})
	if err != nil {
		return nil, err
	}
	if err := st.SetVideo(video); err != nil {
		return nil, err
	}
	return &StageResult{Summary: fmt.Sprintf("fetched %q (%.0fs)", video.Title, video.DurationS)}, nil
}

func (s *fetchStage) Cleanup(context.Context, *State) {}

type extractStage struct {
	extractor media.AudioExtractor
}

func (s *extractStage) ID() models.Stage { return models.StageExtractAudio }
func (s *extractStage) Name() string     { return "extract_audio" }

func (s *extractStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if a := st.Audio(); a != nil {
		if _, err := os.Stat(a.Path); err == nil {
			return &StageResult{Summary: "audio already extracted"}, nil
		}
	}
	video := st.Video()
	if video == nil {
		return nil, fmt.Errorf("no video artifact to extract from")
	}

	tmp, err := st.TempDir()
	if err != nil {
		return nil, err
	}
	audio, err := s.extractor.Extract(ctx, video.Path, filepath.Join(tmp, "audio.wav"), func(frac float64, detail string) {
		st.publish(frac, detail)
	})
	if err != nil {
		return nil, err
	}
	if err := st.SetAudio(audio); err != nil {
		return nil, err
	}
	return &StageResult{Summary: fmt.Sprintf("extracted %.0fs of audio", audio.DurationS)}, nil
}

func (s *extractStage) Cleanup(context.Context, *State) {}

type transcribeStage struct {
	transcriber media.Transcriber
}

func (s *transcribeStage) ID() models.Stage { return models.StageTranscribe }
func (s *transcribeStage) Name() string     { return "transcribe" }

func (s *transcribeStage) Execute(ctx context.Context, st *State) (*StageResult, error) {
	if st.Transcription() != nil {
		return &StageResult{Summary: "transcription already recorded"}, nil
	}
	audio := st.Audio()
	if audio == nil {
		return nil, fmt.Errorf("no audio artifact to transcribe")
	}

	result, err := s.transcriber.Transcribe(ctx, audio.Path, media.TranscribeOptions{}, func(frac float64, detail string) {
		st.publish(frac, detail)
	})
	if err != nil {
		return nil, err
	}
	if err := st.SetTranscription(result); err != nil {
		return nil, err
	}
	return &StageResult{
		Summary: fmt.Sprintf("%d segments, language %s", len(result.Segments), result.Language),
	}, nil
}

func (s *transcribeStage) Cleanup(context.Context, *State) {}
