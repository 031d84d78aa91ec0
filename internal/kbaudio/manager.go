// Package kbaudio implements the knowledge-bowl audio manager: it
// pre-generates per-question audio under a fixed on-disk layout suitable
// for direct HTTP serving, and guards every read against path traversal.
package kbaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/voicetutor/internal/observability"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// JobStatus is the lifecycle state of a module audio generation job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ModuleJob tracks one prefetchModule run.
type ModuleJob struct {
	JobID     string
	ModuleID  string
	Total     int
	Completed int
	Failed    int
	Status    JobStatus
}

func (j *ModuleJob) clone() *ModuleJob {
	c := *j
	return &c
}

// Manager serves and generates knowledge-bowl audio under baseDir.
type Manager struct {
	baseDir string
	pool    *ttsprovider.Pool
	log     *slog.Logger

	mu       sync.Mutex
	jobs     map[string]*ModuleJob
	cancelFn map[string]context.CancelFunc
}

// NewManager builds a Manager rooted at baseDir.
func NewManager(baseDir string, pool *ttsprovider.Pool, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		baseDir:  baseDir,
		pool:     pool,
		log:      log,
		jobs:     make(map[string]*ModuleJob),
		cancelFn: make(map[string]context.CancelFunc),
	}
}

func (m *Manager) moduleDir(moduleID string) string {
	return filepath.Join(m.baseDir, moduleID)
}

func (m *Manager) manifestPath(moduleID string) string {
	return filepath.Join(m.moduleDir(moduleID), "manifest.json")
}

// PrefetchModule generates every missing segment for content at SCHEDULED
// priority, reusing existing files unless forceRegenerate is set. The
// manifest is written atomically only if the job runs to completion
// without cancellation.
func (m *Manager) PrefetchModule(ctx context.Context, content ModuleContent, voiceID string, provider ttsprovider.Provider, speed float64, forceRegenerate bool) string {
	segs := extractSegments(content)
	jobID := ulid.Make().String()

	jobCtx, cancel := context.WithCancel(observability.DetachTraceContext(ctx))

	m.mu.Lock()
	if prior, ok := m.jobForModule(content.ModuleID); ok && !isTerminal(prior.Status) {
		if priorCancel, ok := m.cancelFn[prior.JobID]; ok {
			priorCancel()
		}
	}
	m.jobs[jobID] = &ModuleJob{JobID: jobID, ModuleID: content.ModuleID, Total: len(segs), Status: JobPending}
	m.cancelFn[jobID] = cancel
	m.mu.Unlock()

	go m.run(jobCtx, jobID, content, segs, voiceID, provider, speed, forceRegenerate)
	return jobID
}

func isTerminal(s JobStatus) bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

func (m *Manager) jobForModule(moduleID string) (*ModuleJob, bool) {
	for _, j := range m.jobs {
		if j.ModuleID == moduleID && !isTerminal(j.Status) {
			return j, true
		}
	}
	return nil, false
}

func (m *Manager) run(ctx context.Context, jobID string, content ModuleContent, segs []segmentSpec, voiceID string, provider ttsprovider.Provider, speed float64, forceRegenerate bool) {
	m.setStatus(jobID, JobRunning)

	if err := os.MkdirAll(m.moduleDir(content.ModuleID), 0755); err != nil {
		m.log.ErrorContext(ctx, "kbaudio: create module dir failed", "module_id", content.ModuleID, "error", err)
		m.setStatus(jobID, JobFailed)
		return
	}

	entries := make(map[string]*QuestionManifestEntry)
	var totalSize int64
	var totalDuration float64
	cancelled := false

	for _, seg := range segs {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		qDir := filepath.Join(m.moduleDir(content.ModuleID), seg.QuestionID)
		path := filepath.Join(qDir, seg.filename())

		var size int64
		var duration float64
		if info, err := os.Stat(path); err == nil && !forceRegenerate {
			size = info.Size()
			duration = estimateDuration(size)
		} else {
			if err := os.MkdirAll(qDir, 0755); err != nil {
				m.log.ErrorContext(ctx, "kbaudio: create question dir failed", "error", err)
				m.bump(jobID, func(j *ModuleJob) { j.Failed++; j.Completed++ })
				continue
			}
			res, err := m.pool.GenerateWithPriority(ctx, seg.Text, voiceID, provider, speed, nil, ttsprovider.SCHEDULED)
			if err != nil {
				m.log.WarnContext(ctx, "kbaudio: segment generation failed", "question_id", seg.QuestionID, "type", seg.Type, "error", err)
				m.bump(jobID, func(j *ModuleJob) { j.Failed++; j.Completed++ })
				continue
			}
			if err := os.WriteFile(path, res.Audio, 0644); err != nil {
				m.log.ErrorContext(ctx, "kbaudio: write segment failed", "path", path, "error", err)
				m.bump(jobID, func(j *ModuleJob) { j.Failed++; j.Completed++ })
				continue
			}
			size = int64(len(res.Audio))
			duration = res.Duration.Seconds()
		}

		entry, ok := entries[seg.QuestionID]
		if !ok {
			entry = &QuestionManifestEntry{QuestionID: seg.QuestionID}
			entries[seg.QuestionID] = entry
		}
		entry.Segments = append(entry.Segments, string(seg.Type))
		entry.SizeBytes += size
		entry.DurationSeconds += duration
		totalSize += size
		totalDuration += duration

		m.bump(jobID, func(j *ModuleJob) { j.Completed++ })
	}

	if cancelled {
		m.setStatus(jobID, JobCancelled)
		return
	}

	manifest := Manifest{
		ModuleID:       content.ModuleID,
		TotalSizeBytes: totalSize,
		TotalDuration:  totalDuration,
		GeneratedAt:    time.Now(),
	}
	for _, q := range content.Questions {
		if e, ok := entries[q.ID]; ok {
			manifest.Questions = append(manifest.Questions, *e)
		}
	}

	if err := writeManifestAtomic(m.manifestPath(content.ModuleID), manifest); err != nil {
		m.log.ErrorContext(ctx, "kbaudio: write manifest failed", "error", err)
		m.setStatus(jobID, JobFailed)
		return
	}

	m.mu.Lock()
	failed := m.jobs[jobID].Failed
	m.mu.Unlock()
	if failed > 0 {
		m.setStatus(jobID, JobFailed)
		return
	}
	m.setStatus(jobID, JobCompleted)
}

func writeManifestAtomic(path string, manifest Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp manifest: %w", err)
	}
	return os.Rename(tmp, path)
}

func estimateDuration(sizeBytes int64) float64 {
	const wavHeaderBytes = 44
	const bytesPerSample = 2
	const defaultSampleRate = 24000
	if sizeBytes <= wavHeaderBytes {
		return 0
	}
	samples := float64(sizeBytes-wavHeaderBytes) / bytesPerSample
	return samples / defaultSampleRate
}

func (m *Manager) setStatus(jobID string, status JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.Status = status
	}
}

func (m *Manager) bump(jobID string, mutate func(*ModuleJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		mutate(j)
	}
}

// GetJob returns a snapshot of a prefetch job's state.
func (m *Manager) GetJob(jobID string) (*ModuleJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	return j.clone(), true
}

// GetAudio returns the raw bytes for one question segment. hintIndex is
// only consulted when segmentType == SegmentHint.
func (m *Manager) GetAudio(moduleID, questionID string, segmentType SegmentType, hintIndex int) ([]byte, error) {
	filename := string(segmentType) + ".wav"
	if segmentType == SegmentHint {
		filename = fmt.Sprintf("hint_%d.wav", hintIndex)
	}
	path, err := resolveUnderBase(m.baseDir, moduleID, questionID, filename)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// FeedbackKind names one of the two canned feedback clips.
type FeedbackKind string

const (
	FeedbackCorrect   FeedbackKind = "correct"
	FeedbackIncorrect FeedbackKind = "incorrect"
)

// GetFeedbackAudio returns the canned correct/incorrect feedback clip.
func (m *Manager) GetFeedbackAudio(kind FeedbackKind) ([]byte, error) {
	path, err := resolveUnderBase(m.baseDir, "feedback", string(kind)+".wav")
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// CoverageStatus reports how much of a module's expected audio exists on
// disk.
type CoverageStatus struct {
	ModuleID        string
	ExpectedTotal   int
	Present         int
	MissingSegments []string
}

func (c CoverageStatus) Percentage() float64 {
	if c.ExpectedTotal == 0 {
		return 100
	}
	return 100 * float64(c.Present) / float64(c.ExpectedTotal)
}

// GetCoverageStatus diffs content's expected segments against on-disk
// files.
func (m *Manager) GetCoverageStatus(content ModuleContent) CoverageStatus {
	segs := extractSegments(content)
	status := CoverageStatus{ModuleID: content.ModuleID, ExpectedTotal: len(segs)}

	for _, seg := range segs {
		path := filepath.Join(m.moduleDir(content.ModuleID), seg.QuestionID, seg.filename())
		if _, err := os.Stat(path); err == nil {
			status.Present++
		} else {
			status.MissingSegments = append(status.MissingSegments, seg.QuestionID+"/"+string(seg.Type))
		}
	}
	return status
}
