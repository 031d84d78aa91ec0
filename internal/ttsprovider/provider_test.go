package ttsprovider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func wavBytes(dataBytes int) []byte {
	buf := make([]byte, wavHeaderBytes+dataBytes)
	return buf
}

func TestGenerateWithPriority_UnknownProvider(t *testing.T) {
	p := NewPool(0, 0, nil, time.Second)
	_, err := p.GenerateWithPriority(context.Background(), "hi", "v1", Provider("bogus"), 1.0, nil, LIVE)
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestGenerateWithPriority_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(1000))
	}))
	defer srv.Close()

	p := NewPool(0, 0, map[Provider]string{ProviderVibeVoice: srv.URL}, time.Second)
	res, err := p.GenerateWithPriority(context.Background(), "hello", "v1", ProviderVibeVoice, 1.0, nil, LIVE)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SampleRate != 24000 {
		t.Fatalf("sample rate = %d, want 24000", res.SampleRate)
	}
	if res.Duration <= 0 {
		t.Fatal("expected positive duration estimate")
	}

	stats := p.GetStats()
	if stats.LiveRequests != 1 {
		t.Fatalf("live requests = %d, want 1", stats.LiveRequests)
	}
	if stats.LiveInFlight != 0 {
		t.Fatalf("in-flight should return to 0 after completion, got %d", stats.LiveInFlight)
	}
}

func TestGenerateWithPriority_ChatterboxFieldsOnlyForChatterbox(t *testing.T) {
	var sawExaggeration atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		if string(buf) != "" && containsExaggeration(buf) {
			sawExaggeration.Store(true)
		}
		w.Write(wavBytes(100))
	}))
	defer srv.Close()

	p := NewPool(0, 0, map[Provider]string{ProviderChatterbox: srv.URL}, time.Second)
	_, err := p.GenerateWithPriority(context.Background(), "hi", "v1", ProviderChatterbox, 1.0, &ChatterboxConfig{Exaggeration: 0.7, CfgWeight: 0.3, Language: "en"}, LIVE)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sawExaggeration.Load() {
		t.Fatal("expected exaggeration field in request body for chatterbox")
	}
}

func containsExaggeration(body []byte) bool {
	for i := 0; i+len("exaggeration") <= len(body); i++ {
		if string(body[i:i+len("exaggeration")]) == "exaggeration" {
			return true
		}
	}
	return false
}

func TestGenerateWithPriority_5xxSurfacesImmediately(t *testing.T) {
	// The pool surfaces an upstream error verbatim on a single attempt;
	// retry/backoff is the caller's job, not the pool's.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPool(0, 0, map[Provider]string{ProviderPiper: srv.URL}, 5*time.Second)
	_, err := p.GenerateWithPriority(context.Background(), "hi", "v1", ProviderPiper, 1.0, nil, SCHEDULED)
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
	var re *RetryableError
	if !errors.As(err, &re) {
		t.Fatalf("expected a *RetryableError for 5xx, got %T", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("pool must not retry internally, got %d calls", calls.Load())
	}
}

func TestGenerateWithPriority_NonRetryableStatusSurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad voice id"))
	}))
	defer srv.Close()

	p := NewPool(0, 0, map[Provider]string{ProviderPiper: srv.URL}, time.Second)
	_, err := p.GenerateWithPriority(context.Background(), "hi", "v1", ProviderPiper, 1.0, nil, SCHEDULED)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("non-retryable errors must not be retried, got %d calls", calls.Load())
	}
}

func TestEstimateWAVDuration(t *testing.T) {
	// 24000 samples/sec * 2 bytes/sample * 1 second = 48000 data bytes.
	audio := wavBytes(48000)
	d := estimateWAVDuration(audio, 24000)
	if d < 990*time.Millisecond || d > 1010*time.Millisecond {
		t.Fatalf("expected ~1s, got %s", d)
	}
}

func TestPriorityClassSeparation(t *testing.T) {
	// Two independent endpoints stand in for two requests in flight at
	// once: a live call that blocks, and a scheduled call on its own
	// semaphore. If the pool shared one semaphore, the scheduled call
	// below would be unable to acquire it while the live call holds it.
	liveBlocked := make(chan struct{})
	liveRelease := make(chan struct{})
	liveSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(liveBlocked)
		<-liveRelease
		w.Write(wavBytes(100))
	}))
	defer liveSrv.Close()

	scheduledSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(100))
	}))
	defer scheduledSrv.Close()

	p := NewPool(1, 1, map[Provider]string{
		ProviderVibeVoice: liveSrv.URL,
		ProviderPiper:     scheduledSrv.URL,
	}, 5*time.Second)

	liveDone := make(chan struct{})
	go func() {
		p.GenerateWithPriority(context.Background(), "hi", "v1", ProviderVibeVoice, 1.0, nil, LIVE)
		close(liveDone)
	}()
	<-liveBlocked

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.GenerateWithPriority(ctx, "hi", "v1", ProviderPiper, 1.0, nil, SCHEDULED); err != nil {
		t.Fatalf("scheduled request blocked by live semaphore: %v", err)
	}

	close(liveRelease)
	<-liveDone
}

func TestLiveNeverStarvedByBackgroundSaturation(t *testing.T) {
	// Saturate the background semaphore with prefetch calls blocked on a
	// slow upstream; live calls must still begin immediately.
	prefetchBlocked := make(chan struct{}, 8)
	prefetchRelease := make(chan struct{})
	slowSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefetchBlocked <- struct{}{}
		<-prefetchRelease
		w.Write(wavBytes(100))
	}))
	defer slowSrv.Close()

	fastSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(100))
	}))
	defer fastSrv.Close()

	p := NewPool(2, 1, map[Provider]string{
		ProviderVibeVoice: fastSrv.URL,
		ProviderPiper:     slowSrv.URL,
	}, 10*time.Second)

	// 5 concurrent prefetch requests against a background capacity of 1:
	// one occupies the semaphore, four queue behind it.
	for i := 0; i < 5; i++ {
		go p.GenerateWithPriority(context.Background(), "hi", "v1", ProviderPiper, 1.0, nil, PREFETCH)
	}
	<-prefetchBlocked

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := p.GenerateWithPriority(ctx, "hi", "v1", ProviderVibeVoice, 1.0, nil, LIVE)
		cancel()
		if err != nil {
			t.Fatalf("live request %d starved by saturated background semaphore: %v", i, err)
		}
	}

	close(prefetchRelease)
}
