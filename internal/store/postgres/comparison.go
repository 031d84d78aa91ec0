package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/comparison"
)

// Compile-time check: *Store implements comparison.Repo.
var _ comparison.Repo = (*Store)(nil)

type sampleRow struct {
	Text      string `json:"text"`
	SourceRef string `json:"source_ref,omitempty"`
}

type configRow struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	VoiceID  string      `json:"voice_id"`
	Settings settingsRow `json:"settings"`
}

// CreateSession persists the session row and its fixed variant matrix
// in one transaction; the matrix never changes after creation.
func (s *Store) CreateSession(ctx context.Context, session *comparison.Session, variants []*comparison.Variant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create session: %w", err)
	}
	defer tx.Rollback(ctx)

	samplesJSON, err := json.Marshal(toSampleRows(session.Samples))
	if err != nil {
		return fmt.Errorf("postgres: marshal samples: %w", err)
	}
	configsJSON, err := json.Marshal(toConfigRows(session.Configurations))
	if err != nil {
		return fmt.Errorf("postgres: marshal configurations: %w", err)
	}

	const sessionQ = `
		INSERT INTO tts_comparison_sessions (id, name, status, samples, configurations, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err = tx.Exec(ctx, sessionQ, session.ID, session.Name, string(session.Status), samplesJSON, configsJSON, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert session: %w", err)
	}

	const variantQ = `
		INSERT INTO tts_comparison_variants (id, session_id, sample_index, config_index, tts_config, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	for _, v := range variants {
		cfgJSON, err := json.Marshal(ttsConfigToRow(v.TTSConfig))
		if err != nil {
			return fmt.Errorf("postgres: marshal variant config: %w", err)
		}
		_, err = tx.Exec(ctx, variantQ, v.ID, v.SessionID, v.SampleIndex, v.ConfigIndex, cfgJSON, string(v.Status), v.CreatedAt)
		if err != nil {
			return fmt.Errorf("postgres: insert variant: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func toSampleRows(samples []comparison.Sample) []sampleRow {
	out := make([]sampleRow, len(samples))
	for i, s := range samples {
		out[i] = sampleRow{Text: s.Text, SourceRef: s.SourceRef}
	}
	return out
}

func toConfigRows(configs []comparison.Configuration) []configRow {
	out := make([]configRow, len(configs))
	for i, c := range configs {
		out[i] = configRow{Name: c.Name, Provider: string(c.Provider), VoiceID: c.VoiceID, Settings: toSettingsRow(c.Settings)}
	}
	return out
}

const selectSessionColumns = `id, name, status, samples, configurations, created_at, updated_at`

func scanSession(row pgx.Row) (*comparison.Session, error) {
	var sess comparison.Session
	var status string
	var samplesJSON, configsJSON []byte

	err := row.Scan(&sess.ID, &sess.Name, &status, &samplesJSON, &configsJSON, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Status = comparison.Status(status)

	var sampleRows []sampleRow
	if err := json.Unmarshal(samplesJSON, &sampleRows); err != nil {
		return nil, fmt.Errorf("unmarshal samples: %w", err)
	}
	sess.Samples = make([]comparison.Sample, len(sampleRows))
	for i, r := range sampleRows {
		sess.Samples[i] = comparison.Sample{Text: r.Text, SourceRef: r.SourceRef}
	}

	var configRows []configRow
	if err := json.Unmarshal(configsJSON, &configRows); err != nil {
		return nil, fmt.Errorf("unmarshal configurations: %w", err)
	}
	sess.Configurations = make([]comparison.Configuration, len(configRows))
	for i, r := range configRows {
		sess.Configurations[i] = comparison.Configuration{
			Name: r.Name, Provider: providerFromString(r.Provider), VoiceID: r.VoiceID,
			Settings: r.Settings.toSettings(),
		}
	}
	return &sess, nil
}

// GetSession returns the session with id, or (nil, nil) if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*comparison.Session, error) {
	q := "SELECT " + selectSessionColumns + " FROM tts_comparison_sessions WHERE id = $1"
	sess, err := scanSession(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get session: %w", err)
	}
	return sess, nil
}

// UpdateSession persists the session's status (the only mutable field
// post-creation besides timestamps; the matrix itself never changes).
func (s *Store) UpdateSession(ctx context.Context, session *comparison.Session) error {
	const q = `UPDATE tts_comparison_sessions SET status = $2, updated_at = $3 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, session.ID, string(session.Status), session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update session: %w", err)
	}
	return nil
}

// DeleteSession removes the session row; variants and ratings cascade.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tts_comparison_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete session: %w", err)
	}
	return nil
}

func scanVariant(row pgx.Row) (*comparison.Variant, error) {
	var v comparison.Variant
	var status string
	var cfgJSON []byte

	err := row.Scan(&v.ID, &v.SessionID, &v.SampleIndex, &v.ConfigIndex, &cfgJSON, &status, &v.OutputFile, &v.DurationSeconds, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = comparison.VariantStatus(status)

	var cfg ttsConfigRow
	if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal variant config: %w", err)
	}
	v.TTSConfig = cfg.toTTSConfig()
	return &v, nil
}

const selectVariantColumns = `id, session_id, sample_index, config_index, tts_config, status, output_file, duration_seconds, created_at`

// VariantsForSession returns every variant belonging to sessionID.
func (s *Store) VariantsForSession(ctx context.Context, sessionID string) ([]*comparison.Variant, error) {
	q := "SELECT " + selectVariantColumns + " FROM tts_comparison_variants WHERE session_id = $1 ORDER BY sample_index, config_index"
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: variants for session: %w", err)
	}
	defer rows.Close()

	var out []*comparison.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan variant: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// UpdateVariant persists a variant's status/output fields as one
// atomic statement.
func (s *Store) UpdateVariant(ctx context.Context, v *comparison.Variant) error {
	const q = `
		UPDATE tts_comparison_variants SET
		    status = $2, output_file = $3, duration_seconds = $4
		WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, v.ID, string(v.Status), v.OutputFile, v.DurationSeconds)
	if err != nil {
		return fmt.Errorf("postgres: update variant: %w", err)
	}
	return nil
}

// UpsertRating inserts or replaces the rating for variantID: one rating
// per variant, UPSERT on (variant_id).
func (s *Store) UpsertRating(ctx context.Context, r *comparison.Rating) error {
	const q = `
		INSERT INTO tts_comparison_ratings (id, variant_id, rating, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (variant_id) DO UPDATE SET
		    rating = EXCLUDED.rating, notes = EXCLUDED.notes, updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, q, r.ID, r.VariantID, r.Rating, r.Notes, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert rating: %w", err)
	}
	return nil
}

// RatingsForSession returns every rating for sessionID's variants, keyed
// by variant ID.
func (s *Store) RatingsForSession(ctx context.Context, sessionID string) (map[string]*comparison.Rating, error) {
	const q = `
		SELECT r.id, r.variant_id, r.rating, r.notes, r.created_at, r.updated_at
		FROM   tts_comparison_ratings r
		JOIN   tts_comparison_variants v ON v.id = r.variant_id
		WHERE  v.session_id = $1`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: ratings for session: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*comparison.Rating)
	for rows.Next() {
		var r comparison.Rating
		if err := rows.Scan(&r.ID, &r.VariantID, &r.Rating, &r.Notes, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan rating: %w", err)
		}
		out[r.VariantID] = &r
	}
	return out, rows.Err()
}

// FindVariant resolves a variant by ID along with its owning session,
// used by CreateProfileFromVariant when only the variant ID is known.
func (s *Store) FindVariant(ctx context.Context, variantID string) (*comparison.Variant, *comparison.Session, error) {
	q := "SELECT " + selectVariantColumns + " FROM tts_comparison_variants WHERE id = $1"
	v, err := scanVariant(s.pool.QueryRow(ctx, q, variantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: find variant: %w", err)
	}
	sess, err := s.GetSession(ctx, v.SessionID)
	if err != nil {
		return nil, nil, err
	}
	return v, sess, nil
}

func providerFromString(p string) cachekey.Provider {
	return cachekey.Provider(p)
}
