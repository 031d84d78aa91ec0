package session

import (
	"errors"
	"testing"
	"time"
)

func TestCreateUserSessionRejectsDuplicate(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.CreateUserSession("u1", VoiceConfig{}); err != nil {
		t.Fatalf("unexpected error on first create: %v", err)
	}
	if _, err := m.CreateUserSession("u1", VoiceConfig{}); !errors.Is(err, ErrUserSessionExists) {
		t.Fatalf("expected ErrUserSessionExists, got %v", err)
	}
}

func TestGetUserSessionNotFound(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.GetUserSession("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHeartbeatUpdatesLastActivity(t *testing.T) {
	m := NewManager(nil)
	us, _ := m.CreateUserSession("u1", VoiceConfig{})
	before := us.LastActivity

	if err := m.Heartbeat("u1", PlaybackState{CurriculumID: "c1", IsPlaying: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.GetUserSession("u1")
	if !got.LastActivity.After(before) {
		t.Fatal("expected LastActivity to advance after heartbeat")
	}
	if !got.Playback.IsPlaying {
		t.Fatal("expected playback state to be recorded")
	}
}

func TestAttachConversationRequiresExistingUser(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.AttachConversation("ghost", "curr1", 100000, "", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachConversationRegistersAndLinksBack(t *testing.T) {
	m := NewManager(nil)
	m.CreateUserSession("u1", VoiceConfig{})

	cs, err := m.AttachConversation("u1", "curr1", 100000, "tutor", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetched, err := m.GetConversation(cs.SessionID)
	if err != nil {
		t.Fatalf("expected conversation to be registered: %v", err)
	}
	if fetched != cs {
		t.Fatal("expected GetConversation to return the same instance")
	}

	us, _ := m.GetUserSession("u1")
	if us.Conversation != cs {
		t.Fatal("expected UserSession.Conversation to be linked")
	}
}

func TestEndUserSessionEndsAttachedConversation(t *testing.T) {
	m := NewManager(nil)
	m.CreateUserSession("u1", VoiceConfig{})
	cs, _ := m.AttachConversation("u1", "curr1", 100000, "", false)

	if err := m.EndUserSession("u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs.State != StateEnded {
		t.Fatalf("expected attached conversation to end, state = %s", cs.State)
	}
	if _, err := m.GetUserSession("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected user session to be removed")
	}
}

func TestCleanupInactiveUserSessionsRemovesStaleOnly(t *testing.T) {
	m := NewManager(nil)
	m.CreateUserSession("stale", VoiceConfig{})
	m.CreateUserSession("fresh", VoiceConfig{})

	stale, _ := m.GetUserSession("stale")
	stale.LastActivity = time.Now().Add(-2 * time.Hour)

	removed := m.CleanupInactiveUserSessions(60)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := m.GetUserSession("stale"); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected stale session removed")
	}
	if _, err := m.GetUserSession("fresh"); err != nil {
		t.Fatal("expected fresh session to survive cleanup")
	}
}

func TestCleanupEndedSessionsRemovesEndedOnly(t *testing.T) {
	m := NewManager(nil)
	m.CreateUserSession("u1", VoiceConfig{})
	ended, _ := m.AttachConversation("u1", "curr1", 100000, "", false)
	ended.State = StateEnded

	m.CreateUserSession("u2", VoiceConfig{})
	active, _ := m.AttachConversation("u2", "curr2", 100000, "", false)

	removed := m.CleanupEndedSessions()
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := m.GetConversation(ended.SessionID); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected ended conversation to be removed")
	}
	if _, err := m.GetConversation(active.SessionID); err != nil {
		t.Fatal("expected active conversation to survive cleanup")
	}
}
