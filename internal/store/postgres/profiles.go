package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/ttsprofile"
)

// Compile-time check: *Store implements ttsprofile.Repo.
var _ ttsprofile.Repo = (*Store)(nil)

type settingsRow struct {
	Speed        float64           `json:"speed"`
	Exaggeration *float64          `json:"exaggeration,omitempty"`
	CfgWeight    *float64          `json:"cfg_weight,omitempty"`
	Language     string            `json:"language,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

func toSettingsRow(s ttsprofile.Settings) settingsRow {
	return settingsRow{Speed: s.Speed, Exaggeration: s.Exaggeration, CfgWeight: s.CfgWeight, Language: s.Language, Extra: s.Extra}
}

func (r settingsRow) toSettings() ttsprofile.Settings {
	return ttsprofile.Settings{Speed: r.Speed, Exaggeration: r.Exaggeration, CfgWeight: r.CfgWeight, Language: r.Language, Extra: r.Extra}
}

// CreateProfile inserts a new profile row.
func (s *Store) CreateProfile(ctx context.Context, p *ttsprofile.Profile) error {
	settingsJSON, err := json.Marshal(toSettingsRow(p.Settings))
	if err != nil {
		return fmt.Errorf("postgres: marshal settings: %w", err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("postgres: marshal tags: %w", err)
	}

	const q = `
		INSERT INTO tts_profiles
		    (id, name, provider, voice_id, settings, description, tags, use_case,
		     is_active, is_default, created_from_session_id, sample_audio_path,
		     sample_text, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = s.pool.Exec(ctx, q,
		p.ID, p.Name, string(p.Provider), p.VoiceID, settingsJSON, p.Description,
		tagsJSON, p.UseCase, p.IsActive, p.IsDefault, p.CreatedFromSessionID,
		p.SampleAudioPath, p.SampleText, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create profile: %w", err)
	}
	return nil
}

// UpdateProfile replaces every mutable column of an existing profile row.
func (s *Store) UpdateProfile(ctx context.Context, p *ttsprofile.Profile) error {
	settingsJSON, err := json.Marshal(toSettingsRow(p.Settings))
	if err != nil {
		return fmt.Errorf("postgres: marshal settings: %w", err)
	}
	tagsJSON, err := json.Marshal(p.Tags)
	if err != nil {
		return fmt.Errorf("postgres: marshal tags: %w", err)
	}

	const q = `
		UPDATE tts_profiles SET
		    name = $2, provider = $3, voice_id = $4, settings = $5,
		    description = $6, tags = $7, use_case = $8, is_active = $9,
		    is_default = $10, sample_audio_path = $11, sample_text = $12,
		    updated_at = $13
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q,
		p.ID, p.Name, string(p.Provider), p.VoiceID, settingsJSON, p.Description,
		tagsJSON, p.UseCase, p.IsActive, p.IsDefault, p.SampleAudioPath,
		p.SampleText, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update profile: %w", ttsprofile.ErrNotFound)
	}
	return nil
}

const selectProfileColumns = `
	id, name, provider, voice_id, settings, description, tags, use_case,
	is_active, is_default, created_from_session_id, sample_audio_path,
	sample_text, created_at, updated_at`

func scanProfile(row pgx.Row) (*ttsprofile.Profile, error) {
	var p ttsprofile.Profile
	var provider string
	var settingsJSON, tagsJSON []byte

	err := row.Scan(&p.ID, &p.Name, &provider, &p.VoiceID, &settingsJSON, &p.Description,
		&tagsJSON, &p.UseCase, &p.IsActive, &p.IsDefault, &p.CreatedFromSessionID,
		&p.SampleAudioPath, &p.SampleText, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Provider = cachekey.Provider(provider)

	var sr settingsRow
	if err := json.Unmarshal(settingsJSON, &sr); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal settings: %w", err)
	}
	p.Settings = sr.toSettings()

	if err := json.Unmarshal(tagsJSON, &p.Tags); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal tags: %w", err)
	}
	return &p, nil
}

// GetProfile returns the profile with id, or (nil, nil) if absent.
func (s *Store) GetProfile(ctx context.Context, id string) (*ttsprofile.Profile, error) {
	q := "SELECT " + selectProfileColumns + " FROM tts_profiles WHERE id = $1"
	p, err := scanProfile(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get profile: %w", err)
	}
	return p, nil
}

// GetProfileByName returns the profile with name, or (nil, nil) if absent.
func (s *Store) GetProfileByName(ctx context.Context, name string) (*ttsprofile.Profile, error) {
	q := "SELECT " + selectProfileColumns + " FROM tts_profiles WHERE name = $1"
	p, err := scanProfile(s.pool.QueryRow(ctx, q, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get profile by name: %w", err)
	}
	return p, nil
}

// ListProfiles returns every profile, optionally including inactive ones.
func (s *Store) ListProfiles(ctx context.Context, includeInactive bool) ([]*ttsprofile.Profile, error) {
	q := "SELECT " + selectProfileColumns + " FROM tts_profiles"
	if !includeInactive {
		q += " WHERE is_active"
	}
	q += " ORDER BY name"

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: list profiles: %w", err)
	}
	defer rows.Close()

	var out []*ttsprofile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProfile removes the profile row (and cascades bindings).
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tts_profiles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete profile: %w", err)
	}
	return nil
}

// ClearDefaults unsets is_default on every profile.
func (s *Store) ClearDefaults(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `UPDATE tts_profiles SET is_default = false WHERE is_default`)
	if err != nil {
		return fmt.Errorf("postgres: clear defaults: %w", err)
	}
	return nil
}

// SetDefault marks id as the default profile.
func (s *Store) SetDefault(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tts_profiles SET is_default = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: set default: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: set default: %w", ttsprofile.ErrNotFound)
	}
	return nil
}

// GetDefaultProfile returns the system default profile, or (nil, nil) if
// none is configured.
func (s *Store) GetDefaultProfile(ctx context.Context) (*ttsprofile.Profile, error) {
	q := "SELECT " + selectProfileColumns + " FROM tts_profiles WHERE is_default AND is_active LIMIT 1"
	p, err := scanProfile(s.pool.QueryRow(ctx, q))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get default profile: %w", err)
	}
	return p, nil
}

// UpsertBinding inserts or replaces a module/profile/context binding.
func (s *Store) UpsertBinding(ctx context.Context, b *ttsprofile.ModuleProfileBinding) error {
	const q = `
		INSERT INTO tts_module_profiles (id, module_id, profile_id, context, priority)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (module_id, profile_id, context) DO UPDATE SET
		    priority = EXCLUDED.priority`
	_, err := s.pool.Exec(ctx, q, b.ID, b.ModuleID, b.ProfileID, b.Context, b.Priority)
	if err != nil {
		return fmt.Errorf("postgres: upsert binding: %w", err)
	}
	return nil
}

// BindingsForModule returns every binding registered for moduleID.
func (s *Store) BindingsForModule(ctx context.Context, moduleID string) ([]*ttsprofile.ModuleProfileBinding, error) {
	const q = `
		SELECT id, module_id, profile_id, context, priority
		FROM   tts_module_profiles
		WHERE  module_id = $1`
	rows, err := s.pool.Query(ctx, q, moduleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: bindings for module: %w", err)
	}
	defer rows.Close()

	var out []*ttsprofile.ModuleProfileBinding
	for rows.Next() {
		var b ttsprofile.ModuleProfileBinding
		if err := rows.Scan(&b.ID, &b.ModuleID, &b.ProfileID, &b.Context, &b.Priority); err != nil {
			return nil, fmt.Errorf("postgres: scan binding: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
