package media

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxcut/voxcut/internal/config"
	"github.com/voxcut/voxcut/internal/models"
)

func TestBuildEditGraphSingleSegment(t *testing.T) {
	graph := buildEditGraph(EditJob{
		Segments: []models.EditSegment{
			{ID: 1, StartS: 10, EndS: 20, Speed: 1},
		},
	})
	assert.Equal(t,
		"[0:v]trim=start=10.000:end=20.000,setpts=(PTS-STARTPTS)/1.0000[v0];"+
			"[0:a]atrim=start=10.000:end=20.000,asetpts=PTS-STARTPTS[a0];"+
			"[v0][a0]concat=n=1:v=1:a=1[vout][aout]",
		graph)
}

func TestBuildEditGraphSpeedAndTitle(t *testing.T) {
	graph := buildEditGraph(EditJob{
		Segments: []models.EditSegment{
			{ID: 1, StartS: 0, EndS: 8, Speed: 2, Title: "Intro: Part 1", TitleDurationS: 2},
		},
	})
	assert.Contains(t, graph, "setpts=(PTS-STARTPTS)/2.0000")
	assert.Contains(t, graph, `drawtext=text='Intro\: Part 1'`)
	assert.Contains(t, graph, "enable='between(t,0,2.000)'")
	assert.Contains(t, graph, "atempo=2.0000")
}

func TestBuildEditGraphMultipleSegments(t *testing.T) {
	graph := buildEditGraph(EditJob{
		Segments: []models.EditSegment{
			{ID: 1, StartS: 0, EndS: 5, Speed: 1},
			{ID: 2, StartS: 30, EndS: 40, Speed: 1},
		},
	})
	assert.Contains(t, graph, "[v0][a0][v1][a1]concat=n=2:v=1:a=1")
	assert.Contains(t, graph, "trim=start=30.000:end=40.000")
}

func TestBuildEditGraphVerticalWithSubtitles(t *testing.T) {
	graph := buildEditGraph(EditJob{
		Segments: []models.EditSegment{
			{ID: 1, StartS: 0, EndS: 5, Speed: 1},
		},
		Vertical:     true,
		SubtitlePath: "/tmp/out.ass",
	})
	assert.Contains(t, graph, "concat=n=1:v=1:a=1[vcat][aout]")
	assert.Contains(t, graph, "[vcat]crop=ih*9/16:ih,scale=1080:1920,subtitles='/tmp/out.ass'[vout]")
}

func TestBuildEditGraphScalesToResolution(t *testing.T) {
	graph := buildEditGraph(EditJob{
		Segments: []models.EditSegment{
			{ID: 1, StartS: 0, EndS: 5, Speed: 1},
		},
		Resolution: "1280x720",
	})
	assert.Contains(t, graph, "[vcat]scale=1280:720[vout]")
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		speed float64
		want  string
	}{
		{1.0, ""},
		{1.5, ",atempo=1.5000"},
		{2.0, ",atempo=2.0000"},
		{4.0, ",atempo=2.0,atempo=2.0000"},
		{0.25, ",atempo=0.5,atempo=0.5000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, atempoChain(tt.speed), "speed %.2f", tt.speed)
	}
}

func TestExpectedDuration(t *testing.T) {
	total := expectedDuration([]models.EditSegment{
		{StartS: 0, EndS: 10, Speed: 2},
		{StartS: 10, EndS: 20, Speed: 1},
	})
	assert.InDelta(t, 15.0, total, 0.001)
}

func TestEscapeDrawText(t *testing.T) {
	assert.Equal(t, `100\% \'fun\'\: yes`, escapeDrawText(`100% 'fun': yes`))
}

func TestEditRejectsInvalidJob(t *testing.T) {
	e := NewFFmpegEditor(config.MediaConfig{}, slog.Default())

	_, err := e.Edit(context.Background(), EditJob{OutputPath: "out.mp4"}, nil)
	assert.ErrorIs(t, err, ErrInvalidSegment)

	_, err = e.Edit(context.Background(), EditJob{
		VideoPath:  "in.mp4",
		OutputPath: "out.mp4",
		Segments: []models.EditSegment{
			{ID: 1, StartS: 10, EndS: 5, Speed: 1},
		},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidSegment)

	_, err = e.Edit(context.Background(), EditJob{
		VideoPath:  "in.mp4",
		OutputPath: "out.mp4",
		Segments: []models.EditSegment{
			{ID: 1, StartS: 0, EndS: 5, Speed: 0},
		},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidSegment)
}

func TestEditorMapError(t *testing.T) {
	e := NewFFmpegEditor(config.MediaConfig{}, slog.Default())

	tests := []struct {
		msg  string
		want error
	}{
		{"av_interleaved_write_frame(): No space left on device", ErrDiskSpace},
		{"Cannot load nvcuvid: hwaccel initialisation failed", ErrHWAccel},
		{"Error while filtering: Invalid argument", ErrEncoding},
	}
	for _, tt := range tests {
		got := e.mapError(errors.New(tt.msg))
		assert.ErrorIs(t, got, tt.want, tt.msg)
	}
}
