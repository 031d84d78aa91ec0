package audiocache

import (
	"time"

	"github.com/apresai/voicetutor/internal/cachekey"
)

// DefaultTTL is the default lifetime of a cache entry.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is the metadata record for one cached audio file.
type Entry struct {
	Key             cachekey.Key
	Path            string
	SizeBytes       int64
	SampleRate      int
	DurationSeconds float64
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	AccessCount     int64
	TTL             time.Duration
}

// IsExpired reports whether now is past CreatedAt+TTL.
func (e *Entry) IsExpired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// Touch records an access, bumping LastAccessedAt and AccessCount.
func (e *Entry) Touch(now time.Time) {
	e.LastAccessedAt = now
	e.AccessCount++
}

// Stats is a snapshot of cache-wide counters.
type Stats struct {
	Entries           int
	TotalBytes        int64
	MaxBytes          int64
	Hits              int64
	Misses            int64
	Evictions         int64
	PrefetchCount     int64
	PrefetchHits      int64
	EntriesByProvider map[cachekey.Provider]int
}

// HitRate returns Hits/(Hits+Misses), or 0 if there have been no calls.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Stats) clone() Stats {
	c := s
	c.EntriesByProvider = make(map[cachekey.Provider]int, len(s.EntriesByProvider))
	for k, v := range s.EntriesByProvider {
		c.EntriesByProvider[k] = v
	}
	return c
}
