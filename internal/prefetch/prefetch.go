// Package prefetch implements background cache warming: it walks a
// topic's segments ahead of playback and populates the audio cache at
// PREFETCH priority, without ever blocking live traffic.
package prefetch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/voicetutor/internal/audiocache"
	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/observability"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Status is a PrefetchProgress lifecycle state.
type Status string

const (
	StatusPending             Status = "pending"
	StatusInProgress          Status = "in_progress"
	StatusCompleted           Status = "completed"
	StatusCompletedWithErrors Status = "completed_with_errors"
	StatusCancelled           Status = "cancelled"
	StatusFailed              Status = "failed"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCompletedWithErrors, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Segment is one unit of text to be prefetched.
type Segment struct {
	ID   string
	Text string
}

// Progress is the live/final state of one prefetch job.
type Progress struct {
	JobID        string
	CurriculumID string
	TopicID      string
	Total        int
	Completed    int
	Cached       int
	Generated    int
	Failed       int
	Status       Status
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

func (p *Progress) clone() *Progress {
	c := *p
	return &c
}

// DefaultDelayBetweenRequests rate-limits upstream calls during a prefetch
// pass.
const DefaultDelayBetweenRequests = 100 * time.Millisecond

const defaultMaxAgeSeconds = 3600

// Manager tracks in-flight and completed prefetch jobs, enforcing at most
// one active job per (curriculumId, topicId).
type Manager struct {
	cache *audiocache.Store
	pool  *ttsprovider.Pool
	log   *slog.Logger

	delayBetweenRequests time.Duration

	mu       sync.Mutex
	byTopic  map[string]string // "curriculumId/topicId" -> jobID
	jobs     map[string]*Progress
	cancelFn map[string]context.CancelFunc
}

// NewManager builds a prefetch Manager backed by cache and pool.
func NewManager(cache *audiocache.Store, pool *ttsprovider.Pool, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cache:                cache,
		pool:                 pool,
		log:                  log,
		delayBetweenRequests: DefaultDelayBetweenRequests,
		byTopic:              make(map[string]string),
		jobs:                 make(map[string]*Progress),
		cancelFn:             make(map[string]context.CancelFunc),
	}
}

func topicKey(curriculumID, topicID string) string {
	return curriculumID + "/" + topicID
}

// PrefetchTopic starts background generation of every segment in order,
// cancelling and replacing any job already running for the same topic.
func (m *Manager) PrefetchTopic(ctx context.Context, curriculumID, topicID string, segments []Segment, voiceID string, provider ttsprovider.Provider, speed float64, chatterbox *ttsprovider.ChatterboxConfig) string {
	jobID := ulid.Make().String()
	key := topicKey(curriculumID, topicID)

	jobCtx, cancel := context.WithCancel(observability.DetachTraceContext(ctx))

	m.mu.Lock()
	if priorJobID, ok := m.byTopic[key]; ok {
		if priorCancel, ok := m.cancelFn[priorJobID]; ok {
			priorCancel()
		}
	}
	m.byTopic[key] = jobID
	m.cancelFn[jobID] = cancel
	m.jobs[jobID] = &Progress{
		JobID:        jobID,
		CurriculumID: curriculumID,
		TopicID:      topicID,
		Total:        len(segments),
		Status:       StatusPending,
		CreatedAt:    time.Now(),
	}
	m.mu.Unlock()

	go m.run(jobCtx, jobID, segments, voiceID, provider, speed, chatterbox)

	return jobID
}

func (m *Manager) run(ctx context.Context, jobID string, segments []Segment, voiceID string, provider ttsprovider.Provider, speed float64, chatterbox *ttsprovider.ChatterboxConfig) {
	m.setStatus(jobID, StatusInProgress, func(p *Progress) { p.StartedAt = time.Now() })

	cancelled := false
	for _, seg := range segments {
		select {
		case <-ctx.Done():
			cancelled = true
		default:
		}
		if cancelled {
			break
		}

		key := cachekey.New(seg.Text, voiceID, cachekey.Provider(provider), speed,
			chatterboxExaggeration(chatterbox), chatterboxCfgWeight(chatterbox),
			chatterbox != nil, chatterbox != nil, chatterboxLanguage(chatterbox))

		if m.cache.Has(ctx, key) {
			m.cache.RecordPrefetch(true)
			m.bump(jobID, func(p *Progress) { p.Cached++; p.Completed++ })
		} else {
			m.cache.RecordPrefetch(false)
			res, err := m.pool.GenerateWithPriority(ctx, seg.Text, voiceID, provider, speed, chatterbox, ttsprovider.PREFETCH)
			if err != nil {
				m.log.WarnContext(ctx, "prefetch: segment generation failed", "job_id", jobID, "segment_id", seg.ID, "error", err)
				m.bump(jobID, func(p *Progress) { p.Failed++; p.Completed++ })
			} else {
				if err := m.cache.Put(ctx, key, res.Audio, res.SampleRate, res.Duration.Seconds(), 0); err != nil {
					m.log.WarnContext(ctx, "prefetch: cache put failed", "job_id", jobID, "error", err)
					m.bump(jobID, func(p *Progress) { p.Failed++; p.Completed++ })
				} else {
					m.bump(jobID, func(p *Progress) { p.Generated++; p.Completed++ })
				}
			}
		}

		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(m.delayBetweenRequests):
		}
	}

	final := StatusCompleted
	switch {
	case cancelled:
		final = StatusCancelled
	default:
		m.mu.Lock()
		failed := m.jobs[jobID].Failed
		m.mu.Unlock()
		if failed > 0 {
			final = StatusCompletedWithErrors
		}
	}
	m.setStatus(jobID, final, func(p *Progress) { p.CompletedAt = time.Now() })
}

func chatterboxExaggeration(c *ttsprovider.ChatterboxConfig) float64 {
	if c == nil {
		return 0
	}
	return c.Exaggeration
}

func chatterboxCfgWeight(c *ttsprovider.ChatterboxConfig) float64 {
	if c == nil {
		return 0
	}
	return c.CfgWeight
}

func chatterboxLanguage(c *ttsprovider.ChatterboxConfig) string {
	if c == nil {
		return ""
	}
	return c.Language
}

func (m *Manager) setStatus(jobID string, status Status, mutate func(*Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.jobs[jobID]
	if !ok {
		return
	}
	p.Status = status
	if mutate != nil {
		mutate(p)
	}
}

func (m *Manager) bump(jobID string, mutate func(*Progress)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.jobs[jobID]; ok {
		mutate(p)
	}
}

// PrefetchUpcoming fires off independent, non-cancellable-as-a-group
// generation for the next lookahead segments after currentIndex.
// Individual failures are logged, not propagated.
func (m *Manager) PrefetchUpcoming(ctx context.Context, currentIndex int, segments []Segment, voiceID string, provider ttsprovider.Provider, speed float64, chatterbox *ttsprovider.ChatterboxConfig, lookahead int) {
	if lookahead <= 0 {
		lookahead = 5
	}
	end := currentIndex + 1 + lookahead
	if end > len(segments) {
		end = len(segments)
	}
	detached := observability.DetachTraceContext(ctx)
	for i := currentIndex + 1; i < end; i++ {
		seg := segments[i]
		go func(seg Segment) {
			key := cachekey.New(seg.Text, voiceID, cachekey.Provider(provider), speed,
				chatterboxExaggeration(chatterbox), chatterboxCfgWeight(chatterbox),
				chatterbox != nil, chatterbox != nil, chatterboxLanguage(chatterbox))
			if m.cache.Has(detached, key) {
				m.cache.RecordPrefetch(true)
				return
			}
			m.cache.RecordPrefetch(false)
			res, err := m.pool.GenerateWithPriority(detached, seg.Text, voiceID, provider, speed, chatterbox, ttsprovider.PREFETCH)
			if err != nil {
				m.log.WarnContext(detached, "prefetch: upcoming segment failed", "segment_id", seg.ID, "error", err)
				return
			}
			if err := m.cache.Put(detached, key, res.Audio, res.SampleRate, res.Duration.Seconds(), 0); err != nil {
				m.log.WarnContext(detached, "prefetch: upcoming cache put failed", "error", err)
			}
		}(seg)
	}
}

// Cancel stops a running job cooperatively. Returns false if the job is
// unknown or already terminal.
func (m *Manager) Cancel(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.jobs[jobID]
	if !ok || p.Status.Terminal() {
		return false
	}
	if cancel, ok := m.cancelFn[jobID]; ok {
		cancel()
		return true
	}
	return false
}

// GetProgress returns a point-in-time copy of a job's progress.
func (m *Manager) GetProgress(jobID string) (*Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.jobs[jobID]
	if !ok {
		return nil, false
	}
	return p.clone(), true
}

// GetAllJobs returns a snapshot of every tracked job.
func (m *Manager) GetAllJobs() []*Progress {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Progress, 0, len(m.jobs))
	for _, p := range m.jobs {
		out = append(out, p.clone())
	}
	return out
}

// CleanupCompletedJobs removes terminal jobs older than maxAgeSeconds
// (default 3600) from the in-memory registry.
func (m *Manager) CleanupCompletedJobs(maxAgeSeconds int) int {
	if maxAgeSeconds <= 0 {
		maxAgeSeconds = defaultMaxAgeSeconds
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeSeconds) * time.Second)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for jobID, p := range m.jobs {
		if !p.Status.Terminal() || p.CompletedAt.After(cutoff) {
			continue
		}
		delete(m.jobs, jobID)
		delete(m.cancelFn, jobID)
		if m.byTopic[topicKey(p.CurriculumID, p.TopicID)] == jobID {
			delete(m.byTopic, topicKey(p.CurriculumID, p.TopicID))
		}
		removed++
	}
	return removed
}
