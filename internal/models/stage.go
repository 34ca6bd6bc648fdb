package models

// Stage identifies one step of the fixed pipeline sequence. It doubles as the
// checkpoint cursor: the stage recorded in a checkpoint is the stage the run
// will re-enter on resume.
type Stage string

const (
	// StagePending is the initial state before any work has started.
	StagePending Stage = "pending"
	// StageFetch downloads the source video.
	StageFetch Stage = "fetch"
	// StageExtractAudio produces the 16 kHz mono WAV used for transcription.
	StageExtractAudio Stage = "extract_audio"
	// StageTranscribe runs speech-to-text over the extracted audio.
	StageTranscribe Stage = "transcribe"
	// StageAnalyze detects highlights, chapters and titles via the LLM router.
	StageAnalyze Stage = "analyze"
	// StageAwaitSelection blocks until the caller submits a curated selection.
	StageAwaitSelection Stage = "await_user_selection"
	// StageTranslate translates segments into each target language.
	StageTranslate Stage = "translate"
	// StageSubtitles optimizes timing and writes subtitle files.
	StageSubtitles Stage = "generate_subtitles"
	// StageEdit cuts and renders the selected segments.
	StageEdit Stage = "edit_video"
	// StageExport produces the final derivative files.
	StageExport Stage = "export"
	// StageCompleted is the terminal success state.
	StageCompleted Stage = "completed"
	// StageFailed is the terminal failure state.
	StageFailed Stage = "failed"
	// StageCancelled is the terminal state after a user cancel.
	StageCancelled Stage = "cancelled"
)

// ExecutionOrder lists the work stages in the order the coordinator drives
// them. Terminal states and pending are not part of the sequence.
var ExecutionOrder = []Stage{
	StageFetch,
	StageExtractAudio,
	StageTranscribe,
	StageAnalyze,
	StageAwaitSelection,
	StageTranslate,
	StageSubtitles,
	StageEdit,
	StageExport,
}

// stageWeights drives overall progress aggregation. The await stage carries
// no weight because its duration is unbounded user time.
var stageWeights = map[Stage]float64{
	StageFetch:          0.05,
	StageExtractAudio:   0.05,
	StageTranscribe:     0.25,
	StageAnalyze:        0.10,
	StageAwaitSelection: 0.00,
	StageTranslate:      0.20,
	StageSubtitles:      0.05,
	StageEdit:           0.20,
	StageExport:         0.10,
}

// stageOrder maps each stage to its position in the execution sequence.
// Pending sorts before the first work stage, terminals after the last.
var stageOrder = func() map[Stage]int {
	m := map[Stage]int{StagePending: 0}
	for i, s := range ExecutionOrder {
		m[s] = i + 1
	}
	n := len(ExecutionOrder) + 1
	m[StageCompleted] = n
	m[StageFailed] = n
	m[StageCancelled] = n
	return m
}()

// String returns the stage name.
func (s Stage) String() string {
	return string(s)
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Order returns the stage's position in the pipeline sequence. A checkpoint
// cursor must never move to a stage with a lower order within one process.
func (s Stage) Order() int {
	return stageOrder[s]
}

// Weight returns the stage's share of overall progress.
func (s Stage) Weight() float64 {
	return stageWeights[s]
}

// IsTerminal reports whether the run is finished once this stage is recorded.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Next returns the stage that follows s in the execution sequence. The last
// work stage advances to StageCompleted; terminal stages return themselves.
func (s Stage) Next() Stage {
	if s == StagePending {
		return ExecutionOrder[0]
	}
	for i, cur := range ExecutionOrder {
		if cur != s {
			continue
		}
		if i+1 < len(ExecutionOrder) {
			return ExecutionOrder[i+1]
		}
		return StageCompleted
	}
	return s
}

// OverallProgress aggregates per-stage progress into a single [0,1] value.
// Stages before the cursor count as complete; the cursor stage contributes
// its weight scaled by stageProgress. Failed and cancelled cursors carry no
// progress of their own; callers report the last observed value instead.
func OverallProgress(cursor Stage, stageProgress float64) float64 {
	if cursor.IsTerminal() {
		if cursor == StageCompleted {
			return 1.0
		}
		return 0.0
	}
	if stageProgress < 0 {
		stageProgress = 0
	}
	if stageProgress > 1 {
		stageProgress = 1
	}

	total := 0.0
	for _, s := range ExecutionOrder {
		if s.Order() < cursor.Order() {
			total += s.Weight()
		}
	}
	total += cursor.Weight() * stageProgress
	if total > 1 {
		total = 1
	}
	return total
}
