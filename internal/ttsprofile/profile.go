// Package ttsprofile implements the TTS profile manager: reusable
// named voice configurations, module bindings, and sample-audio preview
// generation.
package ttsprofile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Provider whitelist: the closed upstream set.
var validProviders = map[cachekey.Provider]bool{
	cachekey.ProviderVibeVoice:  true,
	cachekey.ProviderPiper:      true,
	cachekey.ProviderChatterbox: true,
}

// Errors surfaced at the API boundary before any state mutation.
var (
	ErrDuplicateName    = errors.New("ttsprofile: name already in use")
	ErrUnknownProvider  = errors.New("ttsprofile: provider not in whitelist")
	ErrNotFound         = errors.New("ttsprofile: profile not found")
	ErrInactiveDefault  = errors.New("ttsprofile: cannot set an inactive profile as default")
	ErrChatterboxFields = errors.New("ttsprofile: chatterbox-only fields set for a non-chatterbox provider")
)

// Settings is the reusable voice configuration a profile wraps.
type Settings struct {
	Speed        float64
	Exaggeration *float64
	CfgWeight    *float64
	Language     string
	Extra        map[string]string
}

// Profile is a named, reusable (provider, voice, settings)
// configuration.
type Profile struct {
	ID                   string
	Name                 string
	Provider             cachekey.Provider
	VoiceID              string
	Settings             Settings
	Description          string
	Tags                 []string
	UseCase              string
	IsActive             bool
	IsDefault            bool
	CreatedFromSessionID string
	SampleAudioPath      string
	SampleText           string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ModuleProfileBinding associates a module (optionally scoped to a
// context) with a profile at a priority. Higher priority wins.
type ModuleProfileBinding struct {
	ID        string
	ModuleID  string
	ProfileID string
	Context   string
	Priority  int
}

// Repo is the persistence boundary ttsprofile.Manager depends on,
// implemented by internal/store/postgres.
type Repo interface {
	CreateProfile(ctx context.Context, p *Profile) error
	UpdateProfile(ctx context.Context, p *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	GetProfileByName(ctx context.Context, name string) (*Profile, error)
	ListProfiles(ctx context.Context, includeInactive bool) ([]*Profile, error)
	DeleteProfile(ctx context.Context, id string) error
	ClearDefaults(ctx context.Context) error
	SetDefault(ctx context.Context, id string) error
	GetDefaultProfile(ctx context.Context) (*Profile, error)

	UpsertBinding(ctx context.Context, b *ModuleProfileBinding) error
	BindingsForModule(ctx context.Context, moduleID string) ([]*ModuleProfileBinding, error)
}

// Manager implements the Profile Manager component.
type Manager struct {
	repo       Repo
	pool       *ttsprovider.Pool
	samplesDir string
	log        *slog.Logger
}

// NewManager builds a Manager. pool may be nil, in which case sample
// generation is skipped.
func NewManager(repo Repo, pool *ttsprovider.Pool, samplesDir string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{repo: repo, pool: pool, samplesDir: samplesDir, log: log}
}

// ListProfiles delegates to the repo.
func (m *Manager) ListProfiles(ctx context.Context, includeInactive bool) ([]*Profile, error) {
	return m.repo.ListProfiles(ctx, includeInactive)
}

// CreateProfile validates name uniqueness and the provider whitelist,
// persists the profile, and (if a pool is configured) generates a sample
// clip at SCHEDULED priority.
func (m *Manager) CreateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	if !validProviders[p.Provider] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
	}
	if p.Provider != cachekey.ProviderChatterbox && (p.Settings.Exaggeration != nil || p.Settings.CfgWeight != nil) {
		return nil, ErrChatterboxFields
	}
	if existing, err := m.repo.GetProfileByName(ctx, p.Name); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateName, p.Name)
	}

	now := time.Now()
	p.ID = ulid.Make().String()
	p.IsActive = true
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := m.repo.CreateProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("ttsprofile: create: %w", err)
	}

	m.generateSample(ctx, p)
	return p, nil
}

// UpdateProfile persists changes and regenerates the sample clip.
func (m *Manager) UpdateProfile(ctx context.Context, p *Profile) error {
	if !validProviders[p.Provider] {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, p.Provider)
	}
	p.UpdatedAt = time.Now()
	if err := m.repo.UpdateProfile(ctx, p); err != nil {
		return fmt.Errorf("ttsprofile: update: %w", err)
	}
	m.generateSample(ctx, p)
	return nil
}

// generateSample issues a SCHEDULED TTS call and writes the resulting WAV
// to samplesDir/<profileId>.wav. Failures are logged, never surfaced:
// sample preview is a convenience, not a transactional part of create/update.
func (m *Manager) generateSample(ctx context.Context, p *Profile) {
	if m.pool == nil || m.samplesDir == "" {
		return
	}
	text := p.SampleText
	if text == "" {
		text = "This is a preview of the " + p.Name + " voice."
	}

	var chatterbox *ttsprovider.ChatterboxConfig
	if p.Provider == cachekey.ProviderChatterbox {
		chatterbox = &ttsprovider.ChatterboxConfig{Language: p.Settings.Language}
		if p.Settings.Exaggeration != nil {
			chatterbox.Exaggeration = *p.Settings.Exaggeration
		}
		if p.Settings.CfgWeight != nil {
			chatterbox.CfgWeight = *p.Settings.CfgWeight
		}
	}

	res, err := m.pool.GenerateWithPriority(ctx, text, p.VoiceID, ttsprovider.Provider(p.Provider), p.Settings.Speed, chatterbox, ttsprovider.SCHEDULED)
	if err != nil {
		m.log.WarnContext(ctx, "ttsprofile: sample generation failed", "profile_id", p.ID, "error", err)
		return
	}

	if err := os.MkdirAll(m.samplesDir, 0755); err != nil {
		m.log.WarnContext(ctx, "ttsprofile: sample dir create failed", "error", err)
		return
	}
	path := filepath.Join(m.samplesDir, p.ID+".wav")
	if err := os.WriteFile(path, res.Audio, 0644); err != nil {
		m.log.WarnContext(ctx, "ttsprofile: sample write failed", "profile_id", p.ID, "error", err)
		return
	}
	p.SampleAudioPath = path
	if err := m.repo.UpdateProfile(ctx, p); err != nil {
		m.log.WarnContext(ctx, "ttsprofile: persist sample path failed", "profile_id", p.ID, "error", err)
	}
}

// SetDefault clears every default flag, then marks id as the system
// default. Rejects an inactive profile. The two updates are separate
// repository calls with no shared transaction, so a concurrent reader can
// observe no default between them, and a failed second call leaves none.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	p, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !p.IsActive {
		return ErrInactiveDefault
	}
	if err := m.repo.ClearDefaults(ctx); err != nil {
		return fmt.Errorf("ttsprofile: clear defaults: %w", err)
	}
	return m.repo.SetDefault(ctx, id)
}

// Deactivate soft-deletes a profile: isActive=false, identity preserved
// for foreign keys.
func (m *Manager) Deactivate(ctx context.Context, id string) error {
	p, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.IsActive = false
	p.IsDefault = false
	p.UpdatedAt = time.Now()
	return m.repo.UpdateProfile(ctx, p)
}

// HardDelete removes the profile row and its sample file.
func (m *Manager) HardDelete(ctx context.Context, id string) error {
	p, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return err
	}
	if p != nil && p.SampleAudioPath != "" {
		_ = os.Remove(p.SampleAudioPath)
	}
	return m.repo.DeleteProfile(ctx, id)
}

// Duplicate creates a new profile from p's value with a new name.
func (m *Manager) Duplicate(ctx context.Context, id, newName string) (*Profile, error) {
	p, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	dup := *p
	dup.Name = newName
	dup.ID = ""
	dup.IsDefault = false
	dup.SampleAudioPath = ""
	dup.CreatedFromSessionID = ""
	return m.CreateProfile(ctx, &dup)
}

// ExportedProfile is the by-value interchange shape Export/Import use.
// It carries no ID, sample path, or audit link: importing produces a
// brand-new profile.
type ExportedProfile struct {
	Name        string            `json:"name"`
	Provider    cachekey.Provider `json:"provider"`
	VoiceID     string            `json:"voiceId"`
	Settings    Settings          `json:"settings"`
	Description string            `json:"description,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	UseCase     string            `json:"useCase,omitempty"`
	SampleText  string            `json:"sampleText,omitempty"`
}

// Export projects the profile with id to its by-value interchange shape.
func (m *Manager) Export(ctx context.Context, id string) (ExportedProfile, error) {
	p, err := m.repo.GetProfile(ctx, id)
	if err != nil {
		return ExportedProfile{}, err
	}
	if p == nil {
		return ExportedProfile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ExportedProfile{
		Name:        p.Name,
		Provider:    p.Provider,
		VoiceID:     p.VoiceID,
		Settings:    p.Settings,
		Description: p.Description,
		Tags:        p.Tags,
		UseCase:     p.UseCase,
		SampleText:  p.SampleText,
	}, nil
}

// Import creates a new profile from an exported value, running the same
// validation as CreateProfile (name uniqueness, provider whitelist).
func (m *Manager) Import(ctx context.Context, e ExportedProfile) (*Profile, error) {
	p := &Profile{
		Name:        e.Name,
		Provider:    e.Provider,
		VoiceID:     e.VoiceID,
		Settings:    e.Settings,
		Description: e.Description,
		Tags:        e.Tags,
		UseCase:     e.UseCase,
		SampleText:  e.SampleText,
	}
	return m.CreateProfile(ctx, p)
}

// BindModule creates or updates a (moduleId, profileId, context) binding.
func (m *Manager) BindModule(ctx context.Context, b *ModuleProfileBinding) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return m.repo.UpsertBinding(ctx, b)
}

// GetBestProfileForModule resolves the highest-priority active binding
// whose context is empty or matches, falling back to the system
// default.
func (m *Manager) GetBestProfileForModule(ctx context.Context, moduleID, contextScope string) (*Profile, error) {
	bindings, err := m.repo.BindingsForModule(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("ttsprofile: bindings for module: %w", err)
	}

	var best *ModuleProfileBinding
	for _, b := range bindings {
		if b.Context != "" && b.Context != contextScope {
			continue
		}
		if best == nil || b.Priority > best.Priority {
			p, err := m.repo.GetProfile(ctx, b.ProfileID)
			if err != nil {
				return nil, err
			}
			if p != nil && p.IsActive {
				best = b
			}
		}
	}
	if best != nil {
		p, err := m.repo.GetProfile(ctx, best.ProfileID)
		if err != nil {
			return nil, err
		}
		if p != nil && p.IsActive {
			return p, nil
		}
	}
	return m.repo.GetDefaultProfile(ctx)
}

// TTSConfig is the projected shape the resource pool consumes.
type TTSConfig struct {
	Provider   cachekey.Provider
	VoiceID    string
	Speed      float64
	Chatterbox *ttsprovider.ChatterboxConfig
}

// ProfileToTTSConfig projects p to the config shape GenerateWithPriority
// consumes.
func ProfileToTTSConfig(p *Profile) TTSConfig {
	cfg := TTSConfig{Provider: p.Provider, VoiceID: p.VoiceID, Speed: p.Settings.Speed}
	if p.Provider == cachekey.ProviderChatterbox {
		cb := &ttsprovider.ChatterboxConfig{Language: p.Settings.Language}
		if p.Settings.Exaggeration != nil {
			cb.Exaggeration = *p.Settings.Exaggeration
		}
		if p.Settings.CfgWeight != nil {
			cb.CfgWeight = *p.Settings.CfgWeight
		}
		cfg.Chatterbox = cb
	}
	return cfg
}

// ResolveTTSConfig loads profileID and projects it to the resource-pool
// config shape. found is false (with a nil error) when the profile row no
// longer exists; the pregen engine falls back to its inline config in
// that case rather than treating it as an error.
func (m *Manager) ResolveTTSConfig(ctx context.Context, profileID string) (TTSConfig, bool, error) {
	p, err := m.repo.GetProfile(ctx, profileID)
	if err != nil {
		return TTSConfig{}, false, err
	}
	if p == nil {
		return TTSConfig{}, false, nil
	}
	return ProfileToTTSConfig(p), true, nil
}

// CreateFromVariant snapshots an externally-supplied ttsConfig (taken
// from a comparison variant) into a new profile, recording the audit
// link. The comparison package calls this rather than importing
// ttsprofile's Repo directly, keeping the weak-reference rule (deleting
// the session must never cascade to the profile) entirely inside this
// package.
func (m *Manager) CreateFromVariant(ctx context.Context, sessionID, name string, provider cachekey.Provider, voiceID string, settings Settings) (*Profile, error) {
	p := &Profile{
		Name:                 name,
		Provider:             provider,
		VoiceID:              voiceID,
		Settings:             settings,
		CreatedFromSessionID: sessionID,
	}
	return m.CreateProfile(ctx, p)
}
