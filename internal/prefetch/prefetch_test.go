package prefetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apresai/voicetutor/internal/audiocache"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

func testManager(t *testing.T, handler http.HandlerFunc) (*Manager, *audiocache.Store) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cache := audiocache.NewStore(t.TempDir(), 0, 0, nil)
	if err := cache.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize cache: %v", err)
	}

	pool := ttsprovider.NewPool(0, 0, map[ttsprovider.Provider]string{
		ttsprovider.ProviderVibeVoice: srv.URL,
	}, 5*time.Second)

	m := NewManager(cache, pool, nil)
	m.delayBetweenRequests = time.Millisecond
	return m, cache
}

func wavBytes(n int) []byte {
	return make([]byte, 44+n)
}

func TestPrefetchTopic_GeneratesAllSegments(t *testing.T) {
	m, _ := testManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(1000))
	})

	segs := []Segment{{ID: "s1", Text: "one"}, {ID: "s2", Text: "two"}, {ID: "s3", Text: "three"}}
	jobID := m.PrefetchTopic(context.Background(), "curr1", "topic1", segs, "voice1", ttsprovider.ProviderVibeVoice, 1.0, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, _ := m.GetProgress(jobID)
		if p.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p, ok := m.GetProgress(jobID)
	if !ok {
		t.Fatal("expected progress record")
	}
	if p.Status != StatusCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if p.Generated != 3 || p.Completed != 3 {
		t.Fatalf("generated=%d completed=%d, want 3/3", p.Generated, p.Completed)
	}
}

func TestPrefetchTopic_ReplacesPriorJobForSameTopic(t *testing.T) {
	release := make(chan struct{})
	m, _ := testManager(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write(wavBytes(100))
	})

	segs := []Segment{{ID: "s1", Text: "one"}, {ID: "s2", Text: "two"}}
	firstJob := m.PrefetchTopic(context.Background(), "curr1", "topicA", segs, "voice1", ttsprovider.ProviderVibeVoice, 1.0, nil)
	time.Sleep(20 * time.Millisecond)

	secondJob := m.PrefetchTopic(context.Background(), "curr1", "topicA", segs, "voice1", ttsprovider.ProviderVibeVoice, 1.0, nil)
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p1, _ := m.GetProgress(firstJob)
		p2, _ := m.GetProgress(secondJob)
		if p1.Status.Terminal() && p2.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	p1, _ := m.GetProgress(firstJob)
	if p1.Status != StatusCancelled {
		t.Fatalf("expected first job cancelled, got %s", p1.Status)
	}
}

func TestCleanupCompletedJobs(t *testing.T) {
	m, _ := testManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(10))
	})

	jobID := m.PrefetchTopic(context.Background(), "c", "t", []Segment{{ID: "s", Text: "x"}}, "v", ttsprovider.ProviderVibeVoice, 1.0, nil)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p, _ := m.GetProgress(jobID)
		if p.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.mu.Lock()
	m.jobs[jobID].CompletedAt = time.Now().Add(-2 * time.Hour)
	m.mu.Unlock()

	removed := m.CleanupCompletedJobs(3600)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := m.GetProgress(jobID); ok {
		t.Fatal("expected job to be removed")
	}
}
