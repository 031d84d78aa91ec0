// Package comparison implements the comparison session manager: a
// sample × configuration matrix generated for A/B rating, with a winning
// variant promotable into a reusable profile.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/ttsprofile"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Status is a ComparisonSession lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusGenerating Status = "generating"
	StatusReady      Status = "ready"
	StatusArchived   Status = "archived"
)

// VariantStatus is a ComparisonVariant lifecycle state.
type VariantStatus string

const (
	VariantPending    VariantStatus = "pending"
	VariantGenerating VariantStatus = "generating"
	VariantReady      VariantStatus = "ready"
	VariantFailed     VariantStatus = "failed"
)

// Errors surfaced at the API boundary before any state mutation.
var (
	ErrEmptySamples        = errors.New("comparison: samples must be non-empty")
	ErrEmptyConfigs        = errors.New("comparison: configurations must be non-empty")
	ErrConfigMissingFields = errors.New("comparison: configuration requires provider and voiceId")
	ErrNotFound            = errors.New("comparison: session not found")
	ErrVariantNotFound     = errors.New("comparison: variant not found")
	ErrInvalidRating       = errors.New("comparison: rating must be between 1 and 5")
)

// Sample is one text input in the comparison matrix.
type Sample struct {
	Text      string
	SourceRef string
}

// Configuration is one voice configuration in the comparison matrix.
type Configuration struct {
	Name     string
	Provider cachekey.Provider
	VoiceID  string
	Settings ttsprofile.Settings
}

// Session is the sample×configuration matrix for A/B rating.
// The variant set is fixed at creation; adding samples/configurations
// requires a new session.
type Session struct {
	ID             string
	Name           string
	Status         Status
	Samples        []Sample
	Configurations []Configuration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Variant is one cell of the matrix.
type Variant struct {
	ID              string
	SessionID       string
	SampleIndex     int
	ConfigIndex     int
	TTSConfig       ttsprofile.TTSConfig
	Status          VariantStatus
	OutputFile      string
	DurationSeconds float64
	CreatedAt       time.Time
}

// Rating is the single rating recorded against a variant.
type Rating struct {
	ID        string
	VariantID string
	Rating    int
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConfigSummary is one row of getSessionSummary's per-configuration
// aggregate.
type ConfigSummary struct {
	ConfigIndex int
	ConfigName  string
	AvgRating   float64
	RatingCount int
	ReadyCount  int
	FailedCount int
}

// Repo is the persistence boundary comparison.Manager depends on,
// implemented by internal/store/postgres.
type Repo interface {
	CreateSession(ctx context.Context, session *Session, variants []*Variant) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	DeleteSession(ctx context.Context, id string) error
	VariantsForSession(ctx context.Context, sessionID string) ([]*Variant, error)
	UpdateVariant(ctx context.Context, v *Variant) error
	UpsertRating(ctx context.Context, r *Rating) error
	RatingsForSession(ctx context.Context, sessionID string) (map[string]*Rating, error)
	FindVariant(ctx context.Context, variantID string) (*Variant, *Session, error)
}

// Manager implements the Comparison Session Manager component.
type Manager struct {
	repo     Repo
	pool     *ttsprovider.Pool
	profiles *ttsprofile.Manager
	baseDir  string
	log      *slog.Logger
}

// NewManager builds a Manager. baseDir roots every session's audio
// directory.
func NewManager(repo Repo, pool *ttsprovider.Pool, profiles *ttsprofile.Manager, baseDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{repo: repo, pool: pool, profiles: profiles, baseDir: baseDir, log: log}
}

// CreateSession validates non-empty samples/configurations, materializes
// every (sample, configuration) cell as a pending variant, and persists
// the fixed matrix. The variant set never changes after creation;
// adding samples or configurations means a new session.
func (m *Manager) CreateSession(ctx context.Context, name string, samples []Sample, configs []Configuration) (*Session, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySamples
	}
	if len(configs) == 0 {
		return nil, ErrEmptyConfigs
	}
	for _, c := range configs {
		if c.Provider == "" || c.VoiceID == "" {
			return nil, ErrConfigMissingFields
		}
	}

	now := time.Now()
	session := &Session{
		ID:             ulid.Make().String(),
		Name:           name,
		Status:         StatusDraft,
		Samples:        samples,
		Configurations: configs,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var variants []*Variant
	for s := range samples {
		for c, cfg := range configs {
			variants = append(variants, &Variant{
				ID:          ulid.Make().String(),
				SessionID:   session.ID,
				SampleIndex: s,
				ConfigIndex: c,
				TTSConfig:   configTTSConfig(cfg),
				Status:      VariantPending,
				CreatedAt:   now,
			})
		}
	}

	if err := m.repo.CreateSession(ctx, session, variants); err != nil {
		return nil, fmt.Errorf("comparison: create session: %w", err)
	}
	return session, nil
}

func configTTSConfig(c Configuration) ttsprofile.TTSConfig {
	cfg := ttsprofile.TTSConfig{Provider: c.Provider, VoiceID: c.VoiceID, Speed: c.Settings.Speed}
	if c.Provider == cachekey.ProviderChatterbox {
		cb := &ttsprovider.ChatterboxConfig{Language: c.Settings.Language}
		if c.Settings.Exaggeration != nil {
			cb.Exaggeration = *c.Settings.Exaggeration
		}
		if c.Settings.CfgWeight != nil {
			cb.CfgWeight = *c.Settings.CfgWeight
		}
		cfg.Chatterbox = cb
	}
	return cfg
}

// GenerateVariants transitions the session to generating and issues a
// SCHEDULED TTS request for every eligible variant: all of them if
// regenerate is set, otherwise only those not yet ready.
// The session ends in ready if at least one variant succeeded, else back
// to draft.
func (m *Manager) GenerateVariants(ctx context.Context, sessionID string, regenerate bool) error {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	session.Status = StatusGenerating
	session.UpdatedAt = time.Now()
	if err := m.repo.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("comparison: mark generating: %w", err)
	}

	variants, err := m.repo.VariantsForSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("comparison: load variants: %w", err)
	}

	dir := filepath.Join(m.baseDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("comparison: create session dir: %w", err)
	}

	anySucceeded := false
	for _, v := range variants {
		if !regenerate && v.Status == VariantReady {
			anySucceeded = true
			continue
		}

		v.Status = VariantGenerating
		_ = m.repo.UpdateVariant(ctx, v)

		text := ""
		if v.SampleIndex < len(session.Samples) {
			text = session.Samples[v.SampleIndex].Text
		}

		res, err := m.pool.GenerateWithPriority(ctx, text, v.TTSConfig.VoiceID, ttsprovider.Provider(v.TTSConfig.Provider), v.TTSConfig.Speed, v.TTSConfig.Chatterbox, ttsprovider.SCHEDULED)
		if err != nil {
			m.log.WarnContext(ctx, "comparison: variant generation failed", "session_id", sessionID, "variant_id", v.ID, "error", err)
			v.Status = VariantFailed
			_ = m.repo.UpdateVariant(ctx, v)
			continue
		}

		outputFile := filepath.Join(dir, fmt.Sprintf("variant_%d_%d.wav", v.SampleIndex, v.ConfigIndex))
		if err := os.WriteFile(outputFile, res.Audio, 0644); err != nil {
			m.log.WarnContext(ctx, "comparison: variant write failed", "session_id", sessionID, "variant_id", v.ID, "error", err)
			v.Status = VariantFailed
			_ = m.repo.UpdateVariant(ctx, v)
			continue
		}

		v.OutputFile = outputFile
		v.DurationSeconds = res.Duration.Seconds()
		v.Status = VariantReady
		_ = m.repo.UpdateVariant(ctx, v)
		anySucceeded = true
	}

	if anySucceeded {
		session.Status = StatusReady
	} else {
		session.Status = StatusDraft
	}
	session.UpdatedAt = time.Now()
	return m.repo.UpdateSession(ctx, session)
}

// RateVariant upserts a 1-5 rating, atomic on (variantId).
func (m *Manager) RateVariant(ctx context.Context, variantID string, rating int, notes string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	now := time.Now()
	r := &Rating{ID: ulid.Make().String(), VariantID: variantID, Rating: rating, Notes: notes, CreatedAt: now, UpdatedAt: now}
	if err := m.repo.UpsertRating(ctx, r); err != nil {
		return fmt.Errorf("comparison: rate variant: %w", err)
	}
	return nil
}

// GetSessionSummary returns per-configuration aggregates sorted by
// (avgRating, ratingCount) descending, the canonical "winner" order.
func (m *Manager) GetSessionSummary(ctx context.Context, sessionID string) ([]ConfigSummary, error) {
	session, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	variants, err := m.repo.VariantsForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("comparison: load variants: %w", err)
	}
	ratings, err := m.repo.RatingsForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("comparison: load ratings: %w", err)
	}

	summaries := make([]ConfigSummary, len(session.Configurations))
	sums := make([]int, len(session.Configurations))
	for i, cfg := range session.Configurations {
		summaries[i] = ConfigSummary{ConfigIndex: i, ConfigName: cfg.Name}
	}

	for _, v := range variants {
		if v.ConfigIndex < 0 || v.ConfigIndex >= len(summaries) {
			continue
		}
		switch v.Status {
		case VariantReady:
			summaries[v.ConfigIndex].ReadyCount++
		case VariantFailed:
			summaries[v.ConfigIndex].FailedCount++
		}
		if r, ok := ratings[v.ID]; ok {
			summaries[v.ConfigIndex].RatingCount++
			sums[v.ConfigIndex] += r.Rating
		}
	}

	for i := range summaries {
		if summaries[i].RatingCount > 0 {
			summaries[i].AvgRating = float64(sums[i]) / float64(summaries[i].RatingCount)
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].AvgRating != summaries[j].AvgRating {
			return summaries[i].AvgRating > summaries[j].AvgRating
		}
		return summaries[i].RatingCount > summaries[j].RatingCount
	})

	return summaries, nil
}

// CreateProfileFromVariant promotes a variant's tts config into a named
// profile, enforcing name uniqueness there, and records the audit link.
// Deleting the session later must never cascade to the profile; this
// is a one-way snapshot, not a live reference.
func (m *Manager) CreateProfileFromVariant(ctx context.Context, variantID, profileName string) (*ttsprofile.Profile, error) {
	variant, session, err := m.findVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, ErrVariantNotFound
	}

	settings := ttsprofile.Settings{Speed: variant.TTSConfig.Speed}
	if variant.TTSConfig.Chatterbox != nil {
		settings.Language = variant.TTSConfig.Chatterbox.Language
		ex := variant.TTSConfig.Chatterbox.Exaggeration
		cfg := variant.TTSConfig.Chatterbox.CfgWeight
		settings.Exaggeration = &ex
		settings.CfgWeight = &cfg
	}

	return m.profiles.CreateFromVariant(ctx, session.ID, profileName, variant.TTSConfig.Provider, variant.TTSConfig.VoiceID, settings)
}

func (m *Manager) findVariant(ctx context.Context, variantID string) (*Variant, *Session, error) {
	v, s, err := m.repo.FindVariant(ctx, variantID)
	if err != nil {
		return nil, nil, fmt.Errorf("comparison: find variant: %w", err)
	}
	return v, s, nil
}

// DeleteSession cascades to variants and ratings and removes the
// session's audio directory.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("comparison: delete session: %w", err)
	}
	dir := filepath.Join(m.baseDir, id)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("comparison: remove session dir: %w", err)
	}
	return nil
}
