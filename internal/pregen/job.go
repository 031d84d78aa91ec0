// Package pregen implements the pre-gen job engine: durable batch
// TTS generation with pause/resume/cancel, per-item retry with
// exponential backoff, and starvation-safe scheduling. The engine always
// issues upstream calls at SCHEDULED priority, leaving throttling to
// the resource pool's background semaphore.
package pregen

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/voicetutor/internal/observability"
	"github.com/apresai/voicetutor/internal/progress"
	"github.com/apresai/voicetutor/internal/ttsprofile"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Status is a Job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Resumable reports whether a job in this status may be resumed.
func (s Status) Resumable() bool {
	return s == StatusPaused || s == StatusFailed
}

// ItemStatus is a JobItem lifecycle state.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
)

// JobType distinguishes a plain batch job from a comparison-session run.
// The engine only creates JobTypeBatch jobs; the comparison package drives
// its own variants directly against the resource pool and creates no Job
// rows.
type JobType string

const (
	JobTypeBatch      JobType = "batch"
	JobTypeComparison JobType = "comparison"
)

// Errors surfaced at the API boundary before any state mutation.
var (
	ErrEmptyItems      = errors.New("pregen: items must be non-empty")
	ErrConfigAmbiguous = errors.New("pregen: exactly one of profileId or ttsConfig must be set")
	ErrNotPending      = errors.New("pregen: job is not pending")
	ErrNotResumable    = errors.New("pregen: job is not resumable")
	ErrNotFound        = errors.New("pregen: job not found")
	ErrPathTraversal   = errors.New("pregen: resolved output directory escapes base directory")
)

// Job is one batch (or comparison) pre-generation run.
type Job struct {
	ID                  string
	Name                string
	Type                JobType
	Status              Status
	SourceType          string
	ProfileID           string // xor TTSConfig
	TTSConfig           *ttsprofile.TTSConfig
	OutputDir           string
	Total               int
	Completed           int
	Failed              int
	CurrentIndex        int
	CurrentText         string
	ConsecutiveFailures int
	LastError           string
	CreatedAt           time.Time
	StartedAt           time.Time
	PausedAt            time.Time
	CompletedAt         time.Time
	UpdatedAt           time.Time
}

// Pending returns the number of items neither completed nor failed.
func (j *Job) Pending() int {
	return j.Total - j.Completed - j.Failed
}

// JobItem is one unit of text within a Job.
type JobItem struct {
	ID                    string
	JobID                 string
	ItemIndex             int
	Text                  string
	TextHash              string
	SourceRef             string
	Status                ItemStatus
	AttemptCount          int
	OutputFile            string
	DurationSeconds       float64
	FileSizeBytes         int64
	SampleRate            int
	LastError             string
	ProcessingStartedAt   time.Time
	ProcessingCompletedAt time.Time
}

// NewItem is the caller-supplied shape for one batch input. CreateJob
// requires at least one.
type NewItem struct {
	Text      string
	SourceRef string
}

// Repo is the persistence boundary pregen.Engine depends on, implemented
// by internal/store/postgres.
type Repo interface {
	CreateJob(ctx context.Context, job *Job, items []*JobItem) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context) ([]*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
	DeleteJob(ctx context.Context, id string) error
	PendingItems(ctx context.Context, jobID string, limit int) ([]*JobItem, error)
	UpdateItem(ctx context.Context, item *JobItem) error
	FailedToPending(ctx context.Context, jobID string) (int, error)
}

// ProfileResolver loads a profile's effective TTS config by ID, used to
// resolve Job.ProfileID at execution time.
type ProfileResolver interface {
	ResolveTTSConfig(ctx context.Context, profileID string) (ttsprofile.TTSConfig, bool, error)
}

const (
	maxAttempts    = 3
	batchFetchSize = 10
	autoPauseAt    = 5
)

var backoffSchedule = []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}

// Engine runs pre-gen jobs. Multiple jobs may run concurrently; each has
// its own cooperative stop flag.
type Engine struct {
	repo     Repo
	pool     *ttsprovider.Pool
	profiles ProfileResolver
	baseDir  string
	log      *slog.Logger

	mu     sync.Mutex
	stopFn map[string]context.CancelFunc

	onProgress progress.Callback
}

// SetProgressCallback registers cb to receive an Event after every item
// and on job completion, for CLI/renderer consumers (wired by
// cmd/voicetutor using internal/progress.BarRenderer).
func (e *Engine) SetProgressCallback(cb progress.Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = cb
}

func (e *Engine) emit(ev progress.Event) {
	e.mu.Lock()
	cb := e.onProgress
	e.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// NewEngine builds an Engine. baseDir is the root all job output
// directories must resolve underneath; DeleteJob refuses to remove
// anything outside it.
func NewEngine(repo Repo, pool *ttsprovider.Pool, profiles ProfileResolver, baseDir string, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, pool: pool, profiles: profiles, baseDir: baseDir, log: log, stopFn: make(map[string]context.CancelFunc)}
}

// CreateJob validates inputs and persists the job row plus its items in
// pending state.
func (e *Engine) CreateJob(ctx context.Context, name, sourceType string, items []NewItem, profileID string, ttsConfig *ttsprofile.TTSConfig) (*Job, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}
	if (profileID == "") == (ttsConfig == nil) {
		return nil, ErrConfigAmbiguous
	}

	now := time.Now()
	job := &Job{
		ID:         ulid.Make().String(),
		Name:       name,
		Type:       JobTypeBatch,
		Status:     StatusPending,
		SourceType: sourceType,
		ProfileID:  profileID,
		TTSConfig:  ttsConfig,
		Total:      len(items),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	job.OutputDir = filepath.Join(e.baseDir, "jobs", job.ID, "audio")

	rows := make([]*JobItem, len(items))
	for i, it := range items {
		sum := sha256.Sum256([]byte(it.Text))
		rows[i] = &JobItem{
			ID:        ulid.Make().String(),
			JobID:     job.ID,
			ItemIndex: i,
			Text:      it.Text,
			TextHash:  hex.EncodeToString(sum[:]),
			SourceRef: it.SourceRef,
			Status:    ItemPending,
		}
	}

	if err := e.repo.CreateJob(ctx, job, rows); err != nil {
		return nil, fmt.Errorf("pregen: create job: %w", err)
	}
	return job, nil
}

// Start transitions a pending job to running and launches its execution
// loop as a detached goroutine. Rejects a non-pending job.
func (e *Engine) Start(ctx context.Context, jobID string) error {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if job.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, jobID, job.Status)
	}

	job.Status = StatusRunning
	job.StartedAt = time.Now()
	job.UpdatedAt = job.StartedAt
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("pregen: start: %w", err)
	}

	runCtx, cancel := context.WithCancel(observability.DetachTraceContext(ctx))
	e.mu.Lock()
	e.stopFn[jobID] = cancel
	e.mu.Unlock()

	go e.runLoop(runCtx, jobID)
	return nil
}

// Resume transitions a paused or failed job back to running.
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if !job.Status.Resumable() {
		return fmt.Errorf("%w: %s is %s", ErrNotResumable, jobID, job.Status)
	}

	job.Status = StatusRunning
	job.ConsecutiveFailures = 0
	job.UpdatedAt = time.Now()
	if err := e.repo.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("pregen: resume: %w", err)
	}

	runCtx, cancel := context.WithCancel(observability.DetachTraceContext(ctx))
	e.mu.Lock()
	e.stopFn[jobID] = cancel
	e.mu.Unlock()

	go e.runLoop(runCtx, jobID)
	return nil
}

// Pause cancels the running job's context. An item in flight is
// interrupted (its call or backoff wait returns early and it is recorded
// as failed); the loop itself then transitions the job to paused.
func (e *Engine) Pause(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.stopFn[jobID]; ok {
		cancel()
	}
}

// Cancel stops the job (if running) and marks it cancelled immediately.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	e.mu.Lock()
	if cancel, ok := e.stopFn[jobID]; ok {
		cancel()
	}
	e.mu.Unlock()

	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = StatusCancelled
	job.CompletedAt = time.Now()
	job.UpdatedAt = job.CompletedAt
	return e.repo.UpdateJob(ctx, job)
}

// DeleteJob cancels a running job, deletes its rows (items cascade), and
// removes its output directory, but only after verifying the resolved path
// is still inside baseDir.
func (e *Engine) DeleteJob(ctx context.Context, jobID string) error {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if !job.Status.Terminal() {
		if err := e.Cancel(ctx, jobID); err != nil {
			return err
		}
	}
	if err := e.repo.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("pregen: delete job: %w", err)
	}

	absBase, err := filepath.Abs(e.baseDir)
	if err != nil {
		return fmt.Errorf("pregen: resolve base dir: %w", err)
	}
	absOut, err := filepath.Abs(job.OutputDir)
	if err != nil {
		return fmt.Errorf("pregen: resolve output dir: %w", err)
	}
	rel, err := filepath.Rel(absBase, absOut)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrPathTraversal
	}
	if err := os.RemoveAll(absOut); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pregen: remove output dir: %w", err)
	}
	return nil
}

// GetJob returns jobID's current row, for CLI/status consumers.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return e.repo.GetJob(ctx, jobID)
}

// ListJobs returns every job, for CLI listing.
func (e *Engine) ListJobs(ctx context.Context) ([]*Job, error) {
	return e.repo.ListJobs(ctx)
}

// RetryFailedItems resets every failed item on jobID back to pending and
// decrements the job's Failed count accordingly.
func (e *Engine) RetryFailedItems(ctx context.Context, jobID string) error {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	reset, err := e.repo.FailedToPending(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pregen: retry failed items: %w", err)
	}
	job.Failed -= reset
	if job.Failed < 0 {
		job.Failed = 0
	}
	job.UpdatedAt = time.Now()
	return e.repo.UpdateJob(ctx, job)
}

// EstimatedRemaining estimates remaining processing time from the
// observed completion rate.
func EstimatedRemaining(job *Job) time.Duration {
	if job.StartedAt.IsZero() || job.Completed == 0 {
		return 0
	}
	elapsed := time.Since(job.StartedAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	rate := float64(job.Completed) / elapsed
	if rate <= 0 {
		return 0
	}
	remaining := float64(job.Pending()) / rate
	return time.Duration(remaining * float64(time.Second))
}

// runLoop drains pending items in itemIndex order until the job empties,
// is paused, or auto-pauses on consecutive failures.
func (e *Engine) runLoop(ctx context.Context, jobID string) {
	defer func() {
		e.mu.Lock()
		delete(e.stopFn, jobID)
		e.mu.Unlock()
	}()
	// db carries ctx's values but not its cancellation, so that progress
	// and the pause transition are still persisted after Pause cancels ctx.
	db := context.WithoutCancel(ctx)

	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil || job == nil {
		e.log.ErrorContext(ctx, "pregen: load job for run failed", "job_id", jobID, "error", err)
		return
	}

	cfg, err := e.resolveConfig(ctx, job)
	if err != nil {
		e.failJob(ctx, job, err)
		return
	}

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		e.failJob(ctx, job, fmt.Errorf("create output dir: %w", err))
		return
	}

	for {
		if ctx.Err() != nil {
			e.pauseIfRunning(db, jobID)
			return
		}

		items, err := e.repo.PendingItems(ctx, jobID, batchFetchSize)
		if err != nil {
			e.log.ErrorContext(ctx, "pregen: fetch pending items failed", "job_id", jobID, "error", err)
			e.pauseIfRunning(db, jobID)
			return
		}
		if len(items) == 0 {
			e.completeJob(ctx, jobID)
			if final, err := e.repo.GetJob(ctx, jobID); err == nil && final != nil {
				e.emit(progress.Event{Stage: progress.StageComplete, Message: fmt.Sprintf("job %s complete", jobID), Percent: 1, SegmentNum: final.Completed, SegmentTotal: final.Total, OutputFile: final.OutputDir})
			}
			return
		}

		for _, item := range items {
			if ctx.Err() != nil {
				e.pauseIfRunning(db, jobID)
				return
			}

			job, err = e.repo.GetJob(ctx, jobID)
			if err != nil || job == nil {
				return
			}
			job.CurrentIndex = item.ItemIndex
			job.CurrentText = item.Text
			_ = e.repo.UpdateJob(ctx, job)

			ok := e.processItem(ctx, item, cfg, job.OutputDir)
			_ = e.repo.UpdateItem(db, item)

			job, err = e.repo.GetJob(db, jobID)
			if err != nil || job == nil {
				return
			}
			if ok {
				job.Completed++
				job.ConsecutiveFailures = 0
				job.LastError = ""
			} else {
				job.Failed++
				job.ConsecutiveFailures++
				job.LastError = item.LastError
			}
			job.UpdatedAt = time.Now()
			_ = e.repo.UpdateJob(db, job)

			stage := progress.StageRunning
			if !ok {
				stage = progress.StageRetrying
			}
			e.emit(progress.Event{
				Stage:        stage,
				Message:      fmt.Sprintf("job %s: item %d/%d", jobID, job.Completed+job.Failed, job.Total),
				Percent:      float64(job.Completed+job.Failed) / float64(max(1, job.Total)),
				SegmentNum:   job.Completed + job.Failed,
				SegmentTotal: job.Total,
			})

			if job.ConsecutiveFailures >= autoPauseAt {
				job.Status = StatusPaused
				job.PausedAt = time.Now()
				job.UpdatedAt = job.PausedAt
				_ = e.repo.UpdateJob(db, job)
				e.emit(progress.Event{Stage: progress.StagePaused, Message: fmt.Sprintf("job %s auto-paused after %d consecutive failures", jobID, job.ConsecutiveFailures)})
				return
			}
		}
	}
}

func (e *Engine) resolveConfig(ctx context.Context, job *Job) (ttsprofile.TTSConfig, error) {
	if job.ProfileID != "" {
		cfg, found, err := e.profiles.ResolveTTSConfig(ctx, job.ProfileID)
		if err != nil {
			return ttsprofile.TTSConfig{}, fmt.Errorf("resolve profile: %w", err)
		}
		if found {
			return cfg, nil
		}
		e.log.WarnContext(ctx, "pregen: profile missing at runtime, falling back to inline config", "job_id", job.ID, "profile_id", job.ProfileID)
		if job.TTSConfig != nil {
			return *job.TTSConfig, nil
		}
		return ttsprofile.TTSConfig{}, fmt.Errorf("pregen: profile %s absent and no inline fallback configured", job.ProfileID)
	}
	if job.TTSConfig == nil {
		return ttsprofile.TTSConfig{}, ErrConfigAmbiguous
	}
	return *job.TTSConfig, nil
}

// processItem marks item processing, retries up to maxAttempts with
// backoff (5s after the first failure, 15s after the second; with 3
// attempts the 45s schedule entry is not reached), and persists the terminal outcome
// into item (caller writes it back via Repo.UpdateItem).
func (e *Engine) processItem(ctx context.Context, item *JobItem, cfg ttsprofile.TTSConfig, outDir string) bool {
	item.Status = ItemProcessing
	item.ProcessingStartedAt = time.Now()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		item.AttemptCount = attempt

		res, err := e.pool.GenerateWithPriority(ctx, item.Text, cfg.VoiceID, ttsprovider.Provider(cfg.Provider), cfg.Speed, cfg.Chatterbox, ttsprovider.SCHEDULED)
		if err == nil {
			outputFile := filepath.Join(outDir, filename(item.ItemIndex, item.TextHash, "wav"))
			if werr := writeAudioFile(outputFile, res.Audio); werr != nil {
				item.LastError = werr.Error()
			} else {
				item.OutputFile = outputFile
				item.DurationSeconds = res.Duration.Seconds()
				item.FileSizeBytes = int64(len(res.Audio))
				item.SampleRate = res.SampleRate
				item.ProcessingCompletedAt = time.Now()
				item.LastError = ""
				item.Status = ItemCompleted
				return true
			}
		} else {
			item.LastError = err.Error()
		}

		if attempt < maxAttempts {
			wait := backoffSchedule[attempt-1]
			select {
			case <-ctx.Done():
				item.Status = ItemFailed
				item.ProcessingCompletedAt = time.Now()
				return false
			case <-time.After(wait):
			}
		}
	}

	item.Status = ItemFailed
	item.ProcessingCompletedAt = time.Now()
	return false
}

func (e *Engine) pauseIfRunning(ctx context.Context, jobID string) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil || job == nil || job.Status != StatusRunning {
		return
	}
	job.Status = StatusPaused
	job.PausedAt = time.Now()
	job.UpdatedAt = job.PausedAt
	_ = e.repo.UpdateJob(ctx, job)
}

func (e *Engine) completeJob(ctx context.Context, jobID string) {
	job, err := e.repo.GetJob(ctx, jobID)
	if err != nil || job == nil {
		return
	}
	job.Status = StatusCompleted
	job.CompletedAt = time.Now()
	job.UpdatedAt = job.CompletedAt
	_ = e.repo.UpdateJob(ctx, job)
}

func (e *Engine) failJob(ctx context.Context, job *Job, cause error) {
	e.log.ErrorContext(ctx, "pregen: job failed", "job_id", job.ID, "error", cause)
	job.Status = StatusFailed
	job.LastError = cause.Error()
	job.CompletedAt = time.Now()
	job.UpdatedAt = job.CompletedAt
	_ = e.repo.UpdateJob(ctx, job)
}

// filename builds the standard pre-gen output filename: a 5-digit index
// and the first 8 hex chars of the item's text hash.
func filename(index int, textHash, format string) string {
	prefix := textHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return fmt.Sprintf("%05d_%s.%s", index, prefix, format)
}

// writeAudioFile writes the generated audio to path. Every upstream in
// this system always returns WAV-encoded bytes (response_format=wav),
// so every format writes the same raw bytes; there is no transcoding
// step in scope.
func writeAudioFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}
