package session

import (
	"fmt"
	"sync"
	"time"

	"log/slog"
)

// ErrUserSessionExists is returned by CreateUserSession when userID
// already has an active session. One active session per user.
var ErrUserSessionExists = fmt.Errorf("session: user already has an active session")

// ErrNotFound is returned when a session lookup misses.
var ErrNotFound = fmt.Errorf("session: not found")

const defaultMaxInactiveMinutes = 60

// Manager owns the process-wide maps of UserSessions and
// ConversationSessions, and the janitor operations over them. Mirrors
// the mutex-guarded-map idiom used by internal/prefetch.Manager and
// internal/pregen.Engine.
type Manager struct {
	mu sync.Mutex

	users         map[string]*UserSession
	conversations map[string]*ConversationSession

	maxInactiveMinutes int
	log                *slog.Logger
}

// NewManager builds an empty Manager.
func NewManager(log *slog.Logger) *Manager {
	return &Manager{
		users:              make(map[string]*UserSession),
		conversations:      make(map[string]*ConversationSession),
		maxInactiveMinutes: defaultMaxInactiveMinutes,
		log:                log,
	}
}

// CreateUserSession registers a new UserSession for userID. Returns
// ErrUserSessionExists if userID already has one.
func (m *Manager) CreateUserSession(userID string, voiceConfig VoiceConfig) (*UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; ok {
		return nil, ErrUserSessionExists
	}

	now := time.Now()
	us := &UserSession{
		UserID:       userID,
		VoiceConfig:  voiceConfig,
		CreatedAt:    now,
		LastActivity: now,
	}
	m.users[userID] = us
	return us, nil
}

// GetUserSession returns userID's session, or ErrNotFound.
func (m *Manager) GetUserSession(userID string) (*UserSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	us, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return us, nil
}

// Heartbeat updates userID's playback state and LastActivity timestamp,
// fed by periodic client heartbeats.
func (m *Manager) Heartbeat(userID string, pb PlaybackState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	us, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	pb.LastHeartbeat = time.Now()
	us.Playback = pb
	us.LastActivity = pb.LastHeartbeat
	return nil
}

// AttachConversation creates a ConversationSession, registers it, and
// attaches it to userID's UserSession.
func (m *Manager) AttachConversation(userID, curriculumID string, contextWindow int, systemPrompt string, autoExpand bool) (*ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	us, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}

	cs := NewConversationSession(curriculumID, contextWindow, systemPrompt, autoExpand)
	m.conversations[cs.SessionID] = cs
	us.Conversation = cs
	return cs, nil
}

// GetConversation returns the conversation session with id, or
// ErrNotFound.
func (m *Manager) GetConversation(id string) (*ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cs, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cs, nil
}

// EndUserSession removes userID's session and, if attached, marks its
// conversation Ended; the conversation itself stays registered until
// CleanupEndedSessions removes it.
func (m *Manager) EndUserSession(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	us, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if us.Conversation != nil {
		us.Conversation.mu.Lock()
		us.Conversation.State = StateEnded
		us.Conversation.mu.Unlock()
	}
	delete(m.users, userID)
	return nil
}

// CleanupInactiveUserSessions removes every UserSession whose
// LastActivity is older than maxInactiveMinutes (0 uses the manager's
// configured default of 60). Returns the count removed.
func (m *Manager) CleanupInactiveUserSessions(maxInactiveMinutes int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxInactiveMinutes <= 0 {
		maxInactiveMinutes = m.maxInactiveMinutes
	}
	cutoff := time.Now().Add(-time.Duration(maxInactiveMinutes) * time.Minute)

	var removed int
	for id, us := range m.users {
		if us.LastActivity.Before(cutoff) {
			delete(m.users, id)
			removed++
		}
	}
	if removed > 0 && m.log != nil {
		m.log.Info("cleaned up inactive user sessions", "count", removed, "max_inactive_minutes", maxInactiveMinutes)
	}
	return removed
}

// CleanupEndedSessions removes every ConversationSession whose state is
// Ended. Returns the count removed.
func (m *Manager) CleanupEndedSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for id, cs := range m.conversations {
		cs.mu.Lock()
		ended := cs.State == StateEnded
		cs.mu.Unlock()
		if ended {
			delete(m.conversations, id)
			removed++
		}
	}
	if removed > 0 && m.log != nil {
		m.log.Info("cleaned up ended conversation sessions", "count", removed)
	}
	return removed
}

// RunJanitor starts a background goroutine that periodically calls
// CleanupInactiveUserSessions and CleanupEndedSessions until done is closed,
// following the same detached-background-loop pattern used elsewhere in
// this codebase for bounded housekeeping work.
func (m *Manager) RunJanitor(done <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.CleanupInactiveUserSessions(0)
				m.CleanupEndedSessions()
			}
		}
	}()
}
