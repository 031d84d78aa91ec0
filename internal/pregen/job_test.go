package pregen

import (
	"context"
	"errors"
	"testing"

	"github.com/apresai/voicetutor/internal/ttsprofile"
)

// fakeRepo is a minimal in-memory Repo, sufficient for the validation
// tests below which never reach persistence for the error cases, and
// record the created job for the happy-path case.
type fakeRepo struct {
	created *Job
	items   []*JobItem
}

func (f *fakeRepo) CreateJob(ctx context.Context, job *Job, items []*JobItem) error {
	f.created = job
	f.items = items
	return nil
}
func (f *fakeRepo) GetJob(ctx context.Context, id string) (*Job, error) { return nil, ErrNotFound }
func (f *fakeRepo) ListJobs(ctx context.Context) ([]*Job, error)        { return nil, nil }
func (f *fakeRepo) UpdateJob(ctx context.Context, job *Job) error       { return nil }
func (f *fakeRepo) DeleteJob(ctx context.Context, id string) error      { return nil }
func (f *fakeRepo) PendingItems(ctx context.Context, jobID string, limit int) ([]*JobItem, error) {
	return nil, nil
}
func (f *fakeRepo) UpdateItem(ctx context.Context, item *JobItem) error { return nil }
func (f *fakeRepo) FailedToPending(ctx context.Context, jobID string) (int, error) {
	return 0, nil
}

func TestCreateJobRejectsEmptyItems(t *testing.T) {
	e := NewEngine(&fakeRepo{}, nil, nil, "/tmp/voicetutor", nil)
	_, err := e.CreateJob(context.Background(), "job1", "manual", nil, "profile1", nil)
	if !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got %v", err)
	}
}

func TestCreateJobRejectsAmbiguousConfig(t *testing.T) {
	e := NewEngine(&fakeRepo{}, nil, nil, "/tmp/voicetutor", nil)
	items := []NewItem{{Text: "hello"}}

	// neither profileID nor ttsConfig set
	if _, err := e.CreateJob(context.Background(), "job1", "manual", items, "", nil); !errors.Is(err, ErrConfigAmbiguous) {
		t.Fatalf("expected ErrConfigAmbiguous for neither set, got %v", err)
	}

	// both set
	cfg := &ttsprofile.TTSConfig{}
	if _, err := e.CreateJob(context.Background(), "job1", "manual", items, "profile1", cfg); !errors.Is(err, ErrConfigAmbiguous) {
		t.Fatalf("expected ErrConfigAmbiguous for both set, got %v", err)
	}
}

func TestCreateJobHappyPathHashesAndIndexesItems(t *testing.T) {
	repo := &fakeRepo{}
	e := NewEngine(repo, nil, nil, "/tmp/voicetutor", nil)
	items := []NewItem{{Text: "hello", SourceRef: "q1"}, {Text: "world", SourceRef: "q2"}}

	job, err := e.CreateJob(context.Background(), "job1", "manual", items, "profile1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Total != 2 {
		t.Fatalf("Total = %d, want 2", job.Total)
	}
	if job.Status != StatusPending {
		t.Fatalf("Status = %s, want pending", job.Status)
	}
	if repo.created != job {
		t.Fatal("expected repo.CreateJob to receive the same job pointer returned")
	}
	if len(repo.items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(repo.items))
	}
	for i, it := range repo.items {
		if it.ItemIndex != i {
			t.Errorf("items[%d].ItemIndex = %d, want %d", i, it.ItemIndex, i)
		}
		if it.TextHash == "" {
			t.Errorf("items[%d].TextHash is empty", i)
		}
		if it.Status != ItemPending {
			t.Errorf("items[%d].Status = %s, want pending", i, it.Status)
		}
	}
}

func TestStatusTerminalAndResumable(t *testing.T) {
	if !StatusCompleted.Terminal() || !StatusFailed.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("expected completed/failed/cancelled to be terminal")
	}
	if StatusPending.Terminal() || StatusRunning.Terminal() || StatusPaused.Terminal() {
		t.Fatal("expected pending/running/paused to be non-terminal")
	}
	if !StatusPaused.Resumable() || !StatusFailed.Resumable() {
		t.Fatal("expected paused/failed to be resumable")
	}
	if StatusCompleted.Resumable() || StatusPending.Resumable() {
		t.Fatal("expected completed/pending to be non-resumable")
	}
}
