package audiocache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/apresai/voicetutor/internal/cachekey"
)

func testKey(text string) cachekey.Key {
	return cachekey.New(text, "voice1", cachekey.ProviderVibeVoice, 1.0, 0, 0, false, false, "en")
}

func newTestStore(t *testing.T, maxBytes int64, ttl time.Duration) *Store {
	t.Helper()
	s := NewStore(t.TempDir(), maxBytes, ttl, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t, 0, 0)
	key := testKey("hello world")

	if err := s.Put(context.Background(), key, []byte("fake-wav-bytes"), 22050, 1.2, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != "fake-wav-bytes" {
		t.Fatalf("data = %q, want %q", data, "fake-wav-bytes")
	}

	stats := s.GetStats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Fatalf("stats = %+v, want 1 hit 0 misses", stats)
	}
}

func TestGetMissOnAbsentKey(t *testing.T) {
	s := newTestStore(t, 0, 0)
	_, ok, err := s.Get(context.Background(), testKey("never stored"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected miss for absent key")
	}
	if s.GetStats().Misses != 1 {
		t.Fatalf("Misses = %d, want 1", s.GetStats().Misses)
	}
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	s := newTestStore(t, 0, time.Millisecond)
	key := testKey("expires fast")
	if err := s.Put(context.Background(), key, []byte("x"), 22050, 0.1, time.Millisecond); err != nil {
		t.Fatalf("Put: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	_, ok, err := s.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected expired entry to miss")
	}
	if s.GetStats().Entries != 0 {
		t.Fatalf("expected expired entry purged from index, Entries = %d", s.GetStats().Entries)
	}
}

func TestHasDoesNotReadFileContents(t *testing.T) {
	s := newTestStore(t, 0, 0)
	key := testKey("probe me")
	if s.Has(context.Background(), key) {
		t.Fatal("expected Has to be false before Put")
	}
	if err := s.Put(context.Background(), key, []byte("data"), 22050, 0.5, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !s.Has(context.Background(), key) {
		t.Fatal("expected Has to be true after Put")
	}
	if err := os.Remove(bucketPath(s.audioDir, key.Hash())); err != nil {
		t.Fatalf("remove backing file: %v", err)
	}
	if !s.Has(context.Background(), key) {
		t.Fatal("expected Has to stay true without touching the backing file")
	}
}

func TestPutReplacesPriorEntryAtomically(t *testing.T) {
	s := newTestStore(t, 0, 0)
	key := testKey("overwrite me")

	if err := s.Put(context.Background(), key, []byte("v1"), 22050, 1, 0); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := s.Put(context.Background(), key, []byte("version-two"), 22050, 1, 0); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	data, ok, err := s.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("Get after overwrite: ok=%v err=%v", ok, err)
	}
	if string(data) != "version-two" {
		t.Fatalf("data = %q, want %q", data, "version-two")
	}
	if s.GetStats().Entries != 1 {
		t.Fatalf("Entries = %d, want 1 (replace, not append)", s.GetStats().Entries)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := newTestStore(t, 0, 0)
	key := testKey("delete me")
	s.Put(context.Background(), key, []byte("x"), 22050, 1, 0)

	if !s.Delete(context.Background(), key) {
		t.Fatal("expected Delete to report true for existing key")
	}
	if s.Delete(context.Background(), key) {
		t.Fatal("expected second Delete to report false")
	}
	if _, ok, _ := s.Get(context.Background(), key); ok {
		t.Fatal("expected Get to miss after Delete")
	}
}

func TestEvictExpiredRemovesOnlyExpired(t *testing.T) {
	s := newTestStore(t, 0, 0)
	fresh := testKey("fresh entry")
	s.Put(context.Background(), fresh, []byte("x"), 22050, 1, time.Hour)

	stale := testKey("stale entry")
	s.Put(context.Background(), stale, []byte("y"), 22050, 1, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)

	removed, err := s.EvictExpired(context.Background())
	if err != nil {
		t.Fatalf("EvictExpired: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if !s.Has(context.Background(), fresh) {
		t.Fatal("expected fresh entry to survive")
	}
}

func TestEvictLRUEvictsOldestAccessedFirst(t *testing.T) {
	s := newTestStore(t, 0, 0)
	older := testKey("older")
	newer := testKey("newer")

	s.Put(context.Background(), older, []byte("aaaaaaaaaa"), 22050, 1, 0)
	time.Sleep(2 * time.Millisecond)
	s.Put(context.Background(), newer, []byte("bbbbbbbbbb"), 22050, 1, 0)

	totalBytes := s.GetStats().TotalBytes
	if err := s.EvictLRU(context.Background(), totalBytes-1); err != nil {
		t.Fatalf("EvictLRU: %v", err)
	}

	if s.Has(context.Background(), older) {
		t.Fatal("expected older (least-recently-accessed) entry to be evicted")
	}
	if !s.Has(context.Background(), newer) {
		t.Fatal("expected newer entry to survive")
	}
}

func TestPutOverCapacityTriggersAutomaticEviction(t *testing.T) {
	s := newTestStore(t, 20, 0) // tiny cap, forces eviction on every put past it
	a := testKey("a")
	b := testKey("b")

	s.Put(context.Background(), a, []byte("0123456789abcde"), 22050, 1, 0)
	time.Sleep(2 * time.Millisecond)
	s.Put(context.Background(), b, []byte("0123456789abcde"), 22050, 1, 0)

	stats := s.GetStats()
	if stats.TotalBytes > 20 {
		t.Fatalf("TotalBytes = %d, want <= maxBytes after automatic eviction", stats.TotalBytes)
	}
	if stats.Evictions == 0 {
		t.Fatal("expected at least one eviction once over capacity")
	}
}

func TestClearRemovesEntriesButKeepsLifetimeCounters(t *testing.T) {
	s := newTestStore(t, 0, 0)
	s.Put(context.Background(), testKey("x"), []byte("x"), 22050, 1, 0)
	s.Get(context.Background(), testKey("x"))
	s.Get(context.Background(), testKey("missing"))

	if err := s.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	stats := s.GetStats()
	if stats.Entries != 0 || stats.TotalBytes != 0 {
		t.Fatalf("expected empty cache after Clear, got %+v", stats)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("expected lifetime hit/miss counters preserved across Clear, got %+v", stats)
	}
}

func TestInitializeReloadsPersistedIndex(t *testing.T) {
	dir := t.TempDir()
	s1 := NewStore(dir, 0, 0, nil)
	if err := s1.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize s1: %v", err)
	}
	key := testKey("durable entry")
	if err := s1.Put(context.Background(), key, []byte("payload"), 22050, 1, time.Hour); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s1.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	s2 := NewStore(dir, 0, 0, nil)
	if err := s2.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize s2: %v", err)
	}
	data, ok, err := s2.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("expected reloaded entry to be retrievable, ok=%v err=%v", ok, err)
	}
	if string(data) != "payload" {
		t.Fatalf("data = %q, want %q", data, "payload")
	}
}

func TestRecordPrefetchTracksHitsAndTotal(t *testing.T) {
	s := newTestStore(t, 0, 0)
	s.RecordPrefetch(true)
	s.RecordPrefetch(false)
	s.RecordPrefetch(true)

	stats := s.GetStats()
	if stats.PrefetchCount != 3 {
		t.Fatalf("PrefetchCount = %d, want 3", stats.PrefetchCount)
	}
	if stats.PrefetchHits != 2 {
		t.Fatalf("PrefetchHits = %d, want 2", stats.PrefetchHits)
	}
}

func TestHitRateComputation(t *testing.T) {
	var s Stats
	if s.HitRate() != 0 {
		t.Fatalf("HitRate with no calls = %v, want 0", s.HitRate())
	}
	s.Hits, s.Misses = 3, 1
	if got := s.HitRate(); got != 0.75 {
		t.Fatalf("HitRate = %v, want 0.75", got)
	}
}
