package kbaudio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apresai/voicetutor/internal/ttsprovider"
)

func wavBytes(n int) []byte { return make([]byte, 44+n) }

func TestPrefetchModule_GeneratesManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes(1000))
	}))
	defer srv.Close()

	pool := ttsprovider.NewPool(0, 0, map[ttsprovider.Provider]string{ttsprovider.ProviderVibeVoice: srv.URL}, 5*time.Second)
	dir := t.TempDir()
	m := NewManager(dir, pool, nil)

	content := ModuleContent{
		ModuleID: "mod1",
		Questions: []Question{
			{ID: "q1", Question: "What is Go?", Answer: "A language.", Hints: []string{"starts with G", ""}, Explanation: "Created at Google."},
		},
	}

	jobID := m.PrefetchModule(context.Background(), content, "voice1", ttsprovider.ProviderVibeVoice, 1.0, false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		j, _ := m.GetJob(jobID)
		if j.Status == JobCompleted || j.Status == JobFailed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	j, ok := m.GetJob(jobID)
	if !ok || j.Status != JobCompleted {
		t.Fatalf("job status = %+v, want completed", j)
	}

	manifestPath := filepath.Join(dir, "mod1", "manifest.json")
	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest to exist: %v", err)
	}

	// question, answer, one non-empty hint, explanation = 4 segments.
	audio, err := m.GetAudio("mod1", "q1", SegmentQuestion, 0)
	if err != nil {
		t.Fatalf("get question audio: %v", err)
	}
	if len(audio) != 1044 {
		t.Fatalf("audio len = %d, want 1044", len(audio))
	}

	hintAudio, err := m.GetAudio("mod1", "q1", SegmentHint, 0)
	if err != nil {
		t.Fatalf("get hint audio: %v", err)
	}
	if len(hintAudio) == 0 {
		t.Fatal("expected hint 0 audio to exist")
	}
	if _, err := m.GetAudio("mod1", "q1", SegmentHint, 1); err == nil {
		t.Fatal("expected missing hint 1 (empty string) to 404")
	}
}

func TestGetAudio_RejectsPathTraversal(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	cases := []struct {
		moduleID, questionID string
	}{
		{"../escape", "q1"},
		{"mod1", "../../etc"},
		{"mod1", "q1/../../x"},
	}
	for _, c := range cases {
		if _, err := m.GetAudio(c.moduleID, c.questionID, SegmentQuestion, 0); err == nil {
			t.Fatalf("expected rejection for moduleID=%q questionID=%q", c.moduleID, c.questionID)
		}
	}
}

func TestGetFeedbackAudio(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "feedback"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "feedback", "correct.wav"), wavBytes(10), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir, nil, nil)
	audio, err := m.GetFeedbackAudio(FeedbackCorrect)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(audio) != 54 {
		t.Fatalf("len = %d, want 54", len(audio))
	}
}

func TestGetCoverageStatus(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)
	content := ModuleContent{
		ModuleID: "mod1",
		Questions: []Question{
			{ID: "q1", Question: "Q?", Answer: "A."},
		},
	}

	status := m.GetCoverageStatus(content)
	if status.ExpectedTotal != 2 || status.Present != 0 {
		t.Fatalf("status = %+v, want expected=2 present=0", status)
	}

	if err := os.MkdirAll(filepath.Join(dir, "mod1", "q1"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "mod1", "q1", "question.wav"), wavBytes(1), 0644); err != nil {
		t.Fatal(err)
	}

	status = m.GetCoverageStatus(content)
	if status.Present != 1 {
		t.Fatalf("present = %d, want 1", status.Present)
	}
	if status.Percentage() != 50 {
		t.Fatalf("percentage = %v, want 50", status.Percentage())
	}
}
