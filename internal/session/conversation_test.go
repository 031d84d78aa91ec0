package session

import (
	"context"
	"errors"
	"testing"

	"github.com/apresai/voicetutor/internal/fovcontext"
)

func TestTransitionLifecycle(t *testing.T) {
	c := NewConversationSession("curr1", 100000, "tutor", false)

	if err := c.Transition(StatePlaying); err != nil {
		t.Fatalf("idle -> playing: %v", err)
	}
	if err := c.Transition(StateUserSpeaking); err != nil {
		t.Fatalf("playing -> user_speaking: %v", err)
	}
	if err := c.Transition(StateEnded); err != nil {
		t.Fatalf("user_speaking -> ended: %v", err)
	}
	if err := c.Transition(StatePlaying); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition leaving ended, got %v", err)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	c := NewConversationSession("curr1", 100000, "tutor", false)
	if err := c.Transition(StateAISpeaking); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for idle -> ai_speaking, got %v", err)
	}
}

func TestAddUserTurnBargeInIncrementsMetrics(t *testing.T) {
	c := NewConversationSession("curr1", 100000, "tutor", false)
	c.AddUserTurn("wait, what?", true)
	if c.Metrics.BargeInCount != 1 {
		t.Fatalf("BargeInCount = %d, want 1", c.Metrics.BargeInCount)
	}
	if c.Metrics.TotalTurns != 1 {
		t.Fatalf("TotalTurns = %d, want 1", c.Metrics.TotalTurns)
	}
}

type stubResponder struct {
	reply string
	err   error
}

func (s stubResponder) Reply(ctx context.Context, messages []fovcontext.Message) (string, error) {
	return s.reply, s.err
}

func TestRespondRecordsBothTurnsAndScoresConfidence(t *testing.T) {
	c := NewConversationSession("curr1", 100000, "tutor", true)
	reply, analysis, rec, err := c.Respond(context.Background(), stubResponder{reply: "I don't have information about that specific topic."}, "tell me something obscure", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply == "" {
		t.Fatal("expected non-empty reply")
	}
	if len(c.History) != 2 {
		t.Fatalf("len(History) = %d, want 2 (user + assistant)", len(c.History))
	}
	if analysis.KnowledgeGap == 0 {
		t.Fatal("expected knowledge-gap marker to fire for the stubbed reply")
	}
	if rec == nil {
		t.Fatal("expected an expansion recommendation with AutoExpandContext on")
	}
	if c.Metrics.ExpansionCount != 1 {
		t.Fatalf("ExpansionCount = %d, want 1", c.Metrics.ExpansionCount)
	}
}

func TestRespondPropagatesResponderError(t *testing.T) {
	c := NewConversationSession("curr1", 100000, "tutor", false)
	_, _, _, err := c.Respond(context.Background(), stubResponder{err: errors.New("upstream down")}, "hi", false)
	if err == nil {
		t.Fatal("expected error to propagate from responder")
	}
	if len(c.History) != 1 {
		t.Fatalf("len(History) = %d, want 1 (user turn recorded even though the reply failed)", len(c.History))
	}
}

func TestCacheKeyForDelegatesToCachekey(t *testing.T) {
	vc := VoiceConfig{VoiceID: "nova", Provider: "vibevoice", Speed: 1.0}
	k1 := vc.CacheKeyFor("hello")
	k2 := vc.CacheKeyFor("hello")
	if k1.Hash() != k2.Hash() {
		t.Fatal("expected deterministic cache key for identical inputs")
	}
}
