// Package audiocache implements the on-disk, LRU+TTL bounded audio cache
// A single mutex serializes index mutations; file I/O always
// happens outside the lock.
package audiocache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/dustin/go-humanize"
)

const flushEveryNPuts = 10

// DefaultMaxBytes is the default cache size ceiling (2 GiB).
const DefaultMaxBytes int64 = 2 << 30

// DefaultEvictionTargetRatio is the fraction of MaxBytes an LRU eviction
// pass reduces TotalBytes to.
const DefaultEvictionTargetRatio = 0.8

// Store is the audio cache. All exported methods are safe for concurrent
// use.
type Store struct {
	dir      string
	audioDir string
	maxBytes int64
	ttl      time.Duration
	log      *slog.Logger

	mu             sync.Mutex
	entries        map[string]*Entry // keyed by Key.Hash()
	stats          Stats
	putsSinceFlush int
}

// NewStore creates a Store rooted at dir. Nothing touches disk until
// Initialize is called.
func NewStore(dir string, maxBytes int64, ttl time.Duration, log *slog.Logger) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		dir:      dir,
		audioDir: filepath.Join(dir, "audio"),
		maxBytes: maxBytes,
		ttl:      ttl,
		log:      log,
		entries:  make(map[string]*Entry),
		stats: Stats{
			MaxBytes:          maxBytes,
			EntriesByProvider: make(map[cachekey.Provider]int),
		},
	}
}

// Initialize creates the directory layout (256 hex buckets), loads any
// existing index, evicts expired entries, and logs a summary. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(s.audioDir, 0755); err != nil {
		return fmt.Errorf("audiocache: create audio dir: %w", err)
	}
	for i := 0; i < 256; i++ {
		bucket := filepath.Join(s.audioDir, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(bucket, 0755); err != nil {
			return fmt.Errorf("audiocache: create bucket %s: %w", bucket, err)
		}
	}

	idx, err := loadIndex(indexPath(s.dir))
	if err != nil {
		// MalformedIndex: log and start empty, never crash.
		s.log.WarnContext(ctx, "audiocache: index unreadable, starting empty", "error", err)
		idx = nil
	}

	s.mu.Lock()
	if idx != nil {
		for hash, ie := range idx.Entries {
			e := fromIndexEntry(ie)
			if _, statErr := os.Stat(e.Path); statErr != nil {
				// Entries whose file no longer exists are silently dropped.
				continue
			}
			s.entries[hash] = e
			s.stats.TotalBytes += e.SizeBytes
			s.stats.Entries++
			s.stats.EntriesByProvider[e.Key.Provider]++
		}
		s.stats.Hits = idx.Stats.Hits
		s.stats.Misses = idx.Stats.Misses
		s.stats.Evictions = idx.Stats.EvictionCount
		s.stats.PrefetchCount = idx.Stats.PrefetchCount
		s.stats.PrefetchHits = idx.Stats.PrefetchHits
	}
	s.mu.Unlock()

	if _, err := s.EvictExpired(ctx); err != nil {
		s.log.WarnContext(ctx, "audiocache: evict expired at startup failed", "error", err)
	}

	snap := s.GetStats()
	s.log.InfoContext(ctx, "audiocache initialized",
		"entries", snap.Entries,
		"total_size", humanize.Bytes(uint64(snap.TotalBytes)),
		"max_size", humanize.Bytes(uint64(snap.MaxBytes)),
	)
	return nil
}

func bucketPath(audioDir, hash string) string {
	return filepath.Join(audioDir, hash[:2], hash+".wav")
}

// Get returns the cached audio bytes for key, or ok=false on any miss
// (expired, absent, or unreadable file).
func (s *Store) Get(ctx context.Context, key cachekey.Key) (audio []byte, ok bool, err error) {
	hash := key.Hash()
	now := time.Now()

	s.mu.Lock()
	e, found := s.entries[hash]
	if found && e.IsExpired(now) {
		delete(s.entries, hash)
		s.stats.TotalBytes -= e.SizeBytes
		s.stats.Entries--
		s.stats.EntriesByProvider[e.Key.Provider]--
		found = false
	}
	var path string
	if found {
		e.Touch(now)
		path = e.Path
	}
	if !found {
		s.stats.Misses++
	} else {
		s.stats.Hits++
	}
	s.mu.Unlock()

	if !found {
		return nil, false, nil
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		// FilesystemReadError ⇒ miss; purge the index entry opportunistically.
		s.mu.Lock()
		if cur, ok := s.entries[hash]; ok && cur.Path == path {
			delete(s.entries, hash)
			s.stats.TotalBytes -= cur.SizeBytes
			s.stats.Entries--
			s.stats.EntriesByProvider[cur.Key.Provider]--
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	return data, true, nil
}

// Has is an expiry-checking probe that never reads file contents.
func (s *Store) Has(ctx context.Context, key cachekey.Key) bool {
	hash := key.Hash()
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, found := s.entries[hash]
	if !found {
		return false
	}
	if e.IsExpired(now) {
		delete(s.entries, hash)
		s.stats.TotalBytes -= e.SizeBytes
		s.stats.Entries--
		s.stats.EntriesByProvider[e.Key.Provider]--
		return false
	}
	return true
}

// Put stores audio under key, replacing any prior entry atomically from
// the index's point of view: the index either reflects the old entry or
// the new one, never a mix.
func (s *Store) Put(ctx context.Context, key cachekey.Key, audio []byte, sampleRate int, durationSeconds float64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	hash := key.Hash()
	path := bucketPath(s.audioDir, hash)

	// Write the file first; only once it's durable do we touch the index.
	if err := os.WriteFile(path, audio, 0644); err != nil {
		return fmt.Errorf("audiocache: write %s: %w", path, err)
	}

	now := time.Now()
	entry := &Entry{
		Key:             key,
		Path:            path,
		SizeBytes:       int64(len(audio)),
		SampleRate:      sampleRate,
		DurationSeconds: durationSeconds,
		CreatedAt:       now,
		LastAccessedAt:  now,
		AccessCount:     0,
		TTL:             ttl,
	}

	s.mu.Lock()
	if prior, ok := s.entries[hash]; ok {
		s.stats.TotalBytes -= prior.SizeBytes
		s.stats.EntriesByProvider[prior.Key.Provider]--
	} else {
		s.stats.Entries++
	}
	s.entries[hash] = entry
	s.stats.TotalBytes += entry.SizeBytes
	s.stats.EntriesByProvider[entry.Key.Provider]++
	s.putsSinceFlush++
	shouldFlush := s.putsSinceFlush >= flushEveryNPuts
	if shouldFlush {
		s.putsSinceFlush = 0
	}
	overLimit := s.stats.TotalBytes > s.maxBytes
	s.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := s.persistIndex(); err != nil {
				s.log.Error("audiocache: async index flush failed", "error", err)
			}
		}()
	}

	if overLimit {
		if err := s.EvictLRU(ctx, 0); err != nil {
			return fmt.Errorf("audiocache: evict after put: %w", err)
		}
	}

	return nil
}

// Delete removes the cache entry and its backing file for key.
func (s *Store) Delete(ctx context.Context, key cachekey.Key) bool {
	hash := key.Hash()

	s.mu.Lock()
	e, ok := s.entries[hash]
	if ok {
		delete(s.entries, hash)
		s.stats.TotalBytes -= e.SizeBytes
		s.stats.Entries--
		s.stats.EntriesByProvider[e.Key.Provider]--
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	os.Remove(e.Path)
	return true
}

// EvictExpired removes every entry whose TTL has elapsed and persists the
// index. Returns the number of entries removed.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	now := time.Now()

	s.mu.Lock()
	var toRemove []string
	for hash, e := range s.entries {
		if e.IsExpired(now) {
			toRemove = append(toRemove, hash)
		}
	}
	for _, hash := range toRemove {
		e := s.entries[hash]
		delete(s.entries, hash)
		s.stats.TotalBytes -= e.SizeBytes
		s.stats.Entries--
		s.stats.EntriesByProvider[e.Key.Provider]--
		s.stats.Evictions++
	}
	s.mu.Unlock()

	for _, hash := range toRemove {
		os.Remove(bucketPath(s.audioDir, hash))
	}

	if len(toRemove) > 0 {
		if err := s.persistIndex(); err != nil {
			return len(toRemove), err
		}
	}
	return len(toRemove), nil
}

// EvictLRU evicts the least-recently-accessed entries until TotalBytes is
// at or below targetBytes. targetBytes<=0 means the default: 80% of
// MaxBytes.
func (s *Store) EvictLRU(ctx context.Context, targetBytes int64) error {
	if targetBytes <= 0 {
		targetBytes = int64(float64(s.maxBytes) * DefaultEvictionTargetRatio)
	}

	s.mu.Lock()
	type candidate struct {
		hash string
		e    *Entry
	}
	candidates := make([]candidate, 0, len(s.entries))
	for hash, e := range s.entries {
		candidates = append(candidates, candidate{hash, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].e.LastAccessedAt.Before(candidates[j].e.LastAccessedAt)
	})

	var removed []string
	for _, c := range candidates {
		if s.stats.TotalBytes <= targetBytes {
			break
		}
		delete(s.entries, c.hash)
		s.stats.TotalBytes -= c.e.SizeBytes
		s.stats.Entries--
		s.stats.EntriesByProvider[c.e.Key.Provider]--
		s.stats.Evictions++
		removed = append(removed, c.hash)
	}
	s.mu.Unlock()

	for _, hash := range removed {
		os.Remove(bucketPath(s.audioDir, hash))
	}

	if len(removed) > 0 {
		s.log.InfoContext(ctx, "audiocache: evicted LRU entries", "count", len(removed), "target_bytes", targetBytes)
	}
	return s.persistIndex()
}

// Clear removes all entries and files. Lifetime counters (hits, misses,
// evictions, prefetch metrics) are preserved.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	hashes := make([]string, 0, len(s.entries))
	for hash := range s.entries {
		hashes = append(hashes, hash)
	}
	s.entries = make(map[string]*Entry)
	s.stats.TotalBytes = 0
	s.stats.Entries = 0
	s.stats.EntriesByProvider = make(map[cachekey.Provider]int)
	s.mu.Unlock()

	for _, hash := range hashes {
		os.Remove(bucketPath(s.audioDir, hash))
	}
	return s.persistIndex()
}

// GetStats returns a snapshot copy of the cache-wide statistics.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.clone()
}

// RecordPrefetch updates prefetch counters. Called by the prefetcher
// whenever it checks cache membership for a segment, counted whether the
// check hits or misses, with hits also recorded separately.
func (s *Store) RecordPrefetch(hit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.PrefetchCount++
	if hit {
		s.stats.PrefetchHits++
	}
}

// Shutdown flushes the index synchronously.
func (s *Store) Shutdown(ctx context.Context) error {
	return s.persistIndex()
}

func (s *Store) persistIndex() error {
	s.mu.Lock()
	idx := &indexFile{
		Version: indexVersion,
		SavedAt: time.Now(),
		Entries: make(map[string]indexEntry, len(s.entries)),
		Stats: indexStats{
			Hits:          s.stats.Hits,
			Misses:        s.stats.Misses,
			EvictionCount: s.stats.Evictions,
			PrefetchCount: s.stats.PrefetchCount,
			PrefetchHits:  s.stats.PrefetchHits,
		},
	}
	for hash, e := range s.entries {
		idx.Entries[hash] = toIndexEntry(hash, e)
	}
	s.mu.Unlock()

	return saveIndex(indexPath(s.dir), idx)
}
