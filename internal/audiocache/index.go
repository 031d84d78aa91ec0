package audiocache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/apresai/voicetutor/internal/cachekey"
)

const indexVersion = 1

// indexFile is the on-disk representation of the cache index.
type indexFile struct {
	Version int                   `json:"version"`
	SavedAt time.Time             `json:"savedAt"`
	Entries map[string]indexEntry `json:"entries"`
	Stats   indexStats            `json:"stats"`
}

type indexEntry struct {
	TextHash        string  `json:"textHash"`
	VoiceID         string  `json:"voiceId"`
	Provider        string  `json:"provider"`
	Speed           float64 `json:"speed"`
	HasExaggeration bool    `json:"hasExaggeration,omitempty"`
	Exaggeration    float64 `json:"exaggeration,omitempty"`
	HasCfgWeight    bool    `json:"hasCfgWeight,omitempty"`
	CfgWeight       float64 `json:"cfgWeight,omitempty"`
	Language        string  `json:"language,omitempty"`

	Path            string    `json:"path"`
	SizeBytes       int64     `json:"sizeBytes"`
	SampleRate      int       `json:"sampleRate"`
	DurationSeconds float64   `json:"durationSeconds"`
	CreatedAt       time.Time `json:"createdAt"`
	LastAccessedAt  time.Time `json:"lastAccessedAt"`
	AccessCount     int64     `json:"accessCount"`
	TTLSeconds      float64   `json:"ttlSeconds"`
}

type indexStats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	EvictionCount int64 `json:"eviction_count"`
	PrefetchCount int64 `json:"prefetch_count"`
	PrefetchHits  int64 `json:"prefetch_hits"`
}

func toIndexEntry(hash string, e *Entry) indexEntry {
	return indexEntry{
		TextHash:        e.Key.TextHash,
		VoiceID:         e.Key.VoiceID,
		Provider:        string(e.Key.Provider),
		Speed:           e.Key.Speed,
		HasExaggeration: e.Key.HasExaggeration,
		Exaggeration:    e.Key.Exaggeration,
		HasCfgWeight:    e.Key.HasCfgWeight,
		CfgWeight:       e.Key.CfgWeight,
		Language:        e.Key.Language,
		Path:            e.Path,
		SizeBytes:       e.SizeBytes,
		SampleRate:      e.SampleRate,
		DurationSeconds: e.DurationSeconds,
		CreatedAt:       e.CreatedAt,
		LastAccessedAt:  e.LastAccessedAt,
		AccessCount:     e.AccessCount,
		TTLSeconds:      e.TTL.Seconds(),
	}
}

func fromIndexEntry(ie indexEntry) *Entry {
	return &Entry{
		Key: cachekey.Key{
			TextHash:        ie.TextHash,
			VoiceID:         ie.VoiceID,
			Provider:        cachekey.Provider(ie.Provider),
			Speed:           ie.Speed,
			HasExaggeration: ie.HasExaggeration,
			Exaggeration:    ie.Exaggeration,
			HasCfgWeight:    ie.HasCfgWeight,
			CfgWeight:       ie.CfgWeight,
			Language:        ie.Language,
		},
		Path:            ie.Path,
		SizeBytes:       ie.SizeBytes,
		SampleRate:      ie.SampleRate,
		DurationSeconds: ie.DurationSeconds,
		CreatedAt:       ie.CreatedAt,
		LastAccessedAt:  ie.LastAccessedAt,
		AccessCount:     ie.AccessCount,
		TTL:             time.Duration(ie.TTLSeconds * float64(time.Second)),
	}
}

// indexPath returns the index file path under dir.
func indexPath(dir string) string {
	return filepath.Join(dir, "index.json")
}

// loadIndex reads the index file, if any. A missing file is not an error
// (fresh cache). A malformed file is logged by the caller and treated as
// empty; a malformed index never crashes the process.
func loadIndex(path string) (*indexFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// saveIndex writes idx to path atomically: write to a sibling .tmp file,
// then rename over the target. This guarantees a crash never leaves a
// half-written index.
func saveIndex(path string, idx *indexFile) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename index: %w", err)
	}
	return nil
}
