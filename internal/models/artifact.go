package models

// VideoArtifact describes a fetched source video on disk.
type VideoArtifact struct {
	Path      string            `json:"path"`
	Title     string            `json:"title,omitempty"`
	DurationS float64           `json:"duration_s"`
	Width     int               `json:"width,omitempty"`
	Height    int               `json:"height,omitempty"`
	IsShort   bool              `json:"is_short"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AudioArtifact describes the extracted audio track.
type AudioArtifact struct {
	Path       string  `json:"path"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	DurationS  float64 `json:"duration_s"`
}

// TranscriptionResult is the transcriber collaborator's output.
type TranscriptionResult struct {
	Segments  []Segment `json:"segments"`
	Language  string    `json:"language"`
	DurationS float64   `json:"duration_s"`
}

// SubtitleArtifact is one written subtitle file.
type SubtitleArtifact struct {
	Path     string `json:"path"`
	Language string `json:"language"`
	Format   string `json:"format"`
	Entries  int    `json:"entries"`
}

// EditedVideo is the editor collaborator's output for one rendered cut.
type EditedVideo struct {
	Path       string  `json:"path"`
	DurationS  float64 `json:"duration_s"`
	Resolution string  `json:"resolution,omitempty"`
	Bytes      int64   `json:"bytes"`
}
