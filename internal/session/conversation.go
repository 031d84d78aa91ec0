// Package session implements the session layer: conversation
// lifecycle, playback state, per-user voice config, and the process-wide
// session manager that owns both maps.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apresai/voicetutor/internal/cachekey"
	"github.com/apresai/voicetutor/internal/confidence"
	"github.com/apresai/voicetutor/internal/fovcontext"
)

// Responder generates the assistant's reply text for a bounded prompt.
// llmclient.Client satisfies this; tests can substitute a stub.
type Responder interface {
	Reply(ctx context.Context, messages []fovcontext.Message) (string, error)
}

// State is a ConversationSession lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StatePlaying      State = "playing"
	StateUserSpeaking State = "user_speaking"
	StateAIThinking   State = "ai_thinking"
	StateAISpeaking   State = "ai_speaking"
	StatePaused       State = "paused"
	StateEnded        State = "ended"
)

// Metrics tracks per-session counters.
type Metrics struct {
	TotalTurns     int
	BargeInCount   int
	ExpansionCount int
}

// Event is one entry in the session's event log.
type Event struct {
	At   time.Time
	Kind string
	Data string
}

// ErrInvalidTransition is returned when a caller requests a state
// transition the lifecycle graph does not allow.
var ErrInvalidTransition = errors.New("session: invalid state transition")

// ConversationSession composes a FOV context manager and confidence
// monitor over one voice tutoring session.
type ConversationSession struct {
	mu sync.Mutex

	SessionID    string
	CurriculumID string
	State        State
	Context      *fovcontext.Manager
	Confidence   *confidence.Monitor
	History      []fovcontext.Turn
	Events       []Event
	Metrics      Metrics

	AutoExpandContext bool
}

// NewConversationSession builds a session bound to curriculumID, with a
// context manager sized for contextWindow.
func NewConversationSession(curriculumID string, contextWindow int, systemPrompt string, autoExpand bool) *ConversationSession {
	return &ConversationSession{
		SessionID:         uuid.NewString(),
		CurriculumID:      curriculumID,
		State:             StateIdle,
		Context:           fovcontext.NewManager(contextWindow, systemPrompt),
		Confidence:        confidence.NewMonitor(),
		AutoExpandContext: autoExpand,
	}
}

var allowedTransitions = map[State]map[State]bool{
	StateIdle:         {StatePlaying: true},
	StatePlaying:      {StatePaused: true, StateUserSpeaking: true, StateAIThinking: true, StateAISpeaking: true, StateEnded: true},
	StatePaused:       {StatePlaying: true, StateEnded: true},
	StateUserSpeaking: {StatePlaying: true, StateAIThinking: true, StateEnded: true},
	StateAIThinking:   {StatePlaying: true, StateAISpeaking: true, StateEnded: true},
	StateAISpeaking:   {StatePlaying: true, StateEnded: true},
	StateEnded:        {},
}

// Transition moves the session to next if the lifecycle graph allows
// it: idle -> playing -> {paused <-> playing, user_speaking,
// ai_thinking, ai_speaking} -> ended.
func (c *ConversationSession) Transition(next State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !allowedTransitions[c.State][next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.State, next)
	}
	c.State = next
	c.logEvent("transition", string(next))
	return nil
}

func (c *ConversationSession) logEvent(kind, data string) {
	c.Events = append(c.Events, Event{At: time.Now(), Kind: kind, Data: data})
}

// AddUserTurn appends a user turn to history. When bargeIn is set, it
// also records the utterance in the immediate buffer and increments
// BargeInCount.
func (c *ConversationSession) AddUserTurn(content string, bargeIn bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	turn := fovcontext.Turn{Role: "user", Content: content, BargeIn: bargeIn, Timestamp: time.Now()}
	c.History = append(c.History, turn)
	c.Metrics.TotalTurns++

	if bargeIn {
		c.Context.RecordBargeIn(content)
		c.Metrics.BargeInCount++
	}
}

// AddAssistantTurn appends an assistant turn to history.
func (c *ConversationSession) AddAssistantTurn(content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.History = append(c.History, fovcontext.Turn{Role: "assistant", Content: content, Timestamp: time.Now()})
	c.Metrics.TotalTurns++
}

// BuildMessages returns the bounded prompt for the next LLM call.
func (c *ConversationSession) BuildMessages() []fovcontext.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Context.BuildMessagesForLLM(c.History, "")
}

// ProcessResponseWithConfidence scores response for uncertainty. The
// expansion recommendation is non-nil only when AutoExpandContext is on.
func (c *ConversationSession) ProcessResponseWithConfidence(response string) (confidence.Analysis, *confidence.ExpansionRecommendation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	analysis := c.Confidence.Analyze(response)
	if !c.AutoExpandContext {
		return analysis, nil
	}

	rec := c.Confidence.RecommendExpansion(analysis)
	if rec != nil {
		c.Metrics.ExpansionCount++
	}
	return analysis, rec
}

// Respond runs one full conversational turn: records the user's utterance,
// asks responder for a reply against the bounded FOV prompt, records
// the reply, and scores it for uncertainty.
func (c *ConversationSession) Respond(ctx context.Context, responder Responder, userText string, bargeIn bool) (string, confidence.Analysis, *confidence.ExpansionRecommendation, error) {
	c.AddUserTurn(userText, bargeIn)

	messages := c.BuildMessages()
	reply, err := responder.Reply(ctx, messages)
	if err != nil {
		return "", confidence.Analysis{}, nil, fmt.Errorf("session: generate reply: %w", err)
	}

	c.AddAssistantTurn(reply)
	analysis, rec := c.ProcessResponseWithConfidence(reply)
	return reply, analysis, rec, nil
}

// PlaybackState is fed by periodic client heartbeats.
type PlaybackState struct {
	CurriculumID    string
	TopicID         string
	SegmentIndex    int
	SegmentOffsetMs int64
	IsPlaying       bool
	LastHeartbeat   time.Time
}

// VoiceConfig determines the TTS cache key for all of a user's
// requests. Two users with identical configs hit the same cache
// entries.
type VoiceConfig struct {
	VoiceID         string
	Provider        cachekey.Provider
	Speed           float64
	Exaggeration    float64
	HasExaggeration bool
	CfgWeight       float64
	HasCfgWeight    bool
	Language        string
}

// CacheKeyFor builds the cache key for synthesizing text under this
// config, delegating all normalization and rounding to cachekey.New.
func (vc VoiceConfig) CacheKeyFor(text string) cachekey.Key {
	return cachekey.New(text, vc.VoiceID, vc.Provider, vc.Speed, vc.Exaggeration, vc.CfgWeight, vc.HasExaggeration, vc.HasCfgWeight, vc.Language)
}

// UserSession owns one user's voice configuration, playback heartbeat
// state, and an optional attached conversation session.
type UserSession struct {
	UserID       string
	VoiceConfig  VoiceConfig
	Playback     PlaybackState
	Conversation *ConversationSession
	CreatedAt    time.Time
	LastActivity time.Time
}
