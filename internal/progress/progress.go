package progress

import "time"

// Stage identifies which phase of a pre-gen job or prefetch run is
// active: queued, generating items, paused on a failure streak, or
// done.
type Stage string

const (
	StageQueued   Stage = "queued"
	StageRunning  Stage = "running"
	StagePaused   Stage = "paused"
	StageRetrying Stage = "retrying"
	StageComplete Stage = "complete"
)

// Event carries progress information from a pre-gen job or prefetch run
// to the renderer.
type Event struct {
	Stage        Stage
	Message      string
	Percent      float64 // 0.0–1.0
	SegmentNum   int
	SegmentTotal int
	Elapsed      time.Duration
	Error        error
	// OutputFile is set on StageComplete with the job's output directory.
	OutputFile string
	// Duration is the total run time string (e.g. "12:34"), set on StageComplete.
	Duration string
	// SizeMB is the total output size in MB, set on StageComplete.
	SizeMB float64
	// LogFile is the log file path, set on StageComplete.
	LogFile string
}

// Callback is the function signature for progress event handlers.
type Callback func(Event)

// NopCallback is a no-op progress callback for tests and silent mode.
func NopCallback(Event) {}

// NewEvent creates an Event with common fields populated.
func NewEvent(stage Stage, msg string, pct float64, start time.Time) Event {
	return Event{
		Stage:   stage,
		Message: msg,
		Percent: pct,
		Elapsed: time.Since(start),
	}
}
