package fovcontext

import (
	"strings"
	"time"
)

// Message is one rendered chat message passed to the LLM client.
type Message struct {
	Role    string
	Content string
}

// FOVContext is the rendered, budget-truncated four-tier prompt plus the
// base system prompt.
type FOVContext struct {
	SystemPrompt string
	Semantic     string
	Working      string
	Episodic     string
	Immediate    string
}

// ToSystemMessage concatenates the four rendered sections with labelled
// headers.
func (c FOVContext) ToSystemMessage() string {
	var sb strings.Builder
	if c.SystemPrompt != "" {
		sb.WriteString(c.SystemPrompt + "\n\n")
	}
	sb.WriteString("=== CURRICULUM CONTEXT ===\n" + c.Semantic + "\n\n")
	sb.WriteString("=== CURRENT TOPIC ===\n" + c.Working + "\n\n")
	sb.WriteString("=== SESSION CONTEXT ===\n" + c.Episodic + "\n\n")
	sb.WriteString("=== IMMEDIATE CONTEXT ===\n" + c.Immediate)
	return sb.String()
}

// Manager builds bounded prompts for LLM tutoring calls. It derives
// a Tier (and its fixed budget table) at construction and never mutates
// it afterward.
type Manager struct {
	tier         Tier
	budget       Budget
	systemPrompt string

	immediate *ImmediateBuffer
	working   *WorkingBuffer
	episodic  *EpisodicBuffer
	semantic  *SemanticBuffer
}

// NewManager builds a Manager from a model's context window size,
// deriving its Tier and fixed per-buffer budget.
func NewManager(contextWindow int, systemPrompt string) *Manager {
	tier := TierForContextWindow(contextWindow)
	return &Manager{
		tier:         tier,
		budget:       BudgetFor(tier),
		systemPrompt: systemPrompt,
		immediate:    &ImmediateBuffer{},
		working:      &WorkingBuffer{},
		episodic:     newEpisodicBuffer(),
		semantic:     &SemanticBuffer{},
	}
}

// Tier returns the derived model tier.
func (m *Manager) Tier() Tier { return m.tier }

// Budget returns the fixed per-buffer/total budget table for this
// manager's tier.
func (m *Manager) Budget() Budget { return m.budget }

// SetCurrentSegment records the segment currently being played, for
// barge-in interruption context.
func (m *Manager) SetCurrentSegment(text string, interruptedAt int) {
	m.immediate.CurrentSegment = text
	m.immediate.InterruptedAtPosition = interruptedAt
	m.immediate.HasInterruption = interruptedAt > 0
}

// SetCurrentTopic updates the working buffer.
func (m *Manager) SetCurrentTopic(topicID, title, content string, objectives, glossary, misconceptions []string) {
	m.working.TopicID = topicID
	m.working.TopicTitle = title
	m.working.TopicContent = content
	m.working.LearningObjectives = objectives
	m.working.GlossaryTerms = glossary
	m.working.MisconceptionTriggers = misconceptions
}

// SetCurriculumPosition updates the semantic buffer's progress markers.
func (m *Manager) SetCurriculumPosition(outline string, pos CurriculumPosition, prerequisites, upcoming []string) {
	m.semantic.CurriculumOutline = outline
	m.semantic.Position = pos
	m.semantic.PrerequisiteTopics = prerequisites
	m.semantic.UpcomingTopics = upcoming
}

// RecordCompletion appends a mastered topic summary to the episodic
// buffer and increments TopicsMastered.
func (m *Manager) RecordCompletion(topicTitle string, masteryPct float64) {
	m.episodic.AddTopicSummary(TopicSummary{TopicTitle: topicTitle, MasteryPct: masteryPct})
	m.episodic.LearnerSignals.TopicsMastered++
}

// RecordUserQuestion appends q to the episodic buffer's bounded question
// list.
func (m *Manager) RecordUserQuestion(q string) {
	m.episodic.AddUserQuestion(q)
}

// BumpSignal increments one of the named learner-signal counters.
func (m *Manager) BumpSignal(name string) {
	switch name {
	case "clarification":
		m.episodic.LearnerSignals.ClarificationRequests++
	case "repetition":
		m.episodic.LearnerSignals.RepetitionRequests++
	case "confusion":
		m.episodic.LearnerSignals.ConfusionIndicators++
	}
}

// SetPacePreference records the learner's stated pace preference.
func (m *Manager) SetPacePreference(pace string) {
	m.episodic.LearnerSignals.PacePreference = pace
}

// SetSessionStart records when the session began, for episodic rendering.
func (m *Manager) SetSessionStart(t time.Time) {
	m.episodic.SessionStart = t
}

// RecordBargeIn records a barge-in utterance in the immediate buffer.
func (m *Manager) RecordBargeIn(utterance string) {
	m.immediate.BargeInUtterance = utterance
}

// ClearBargeIn clears any recorded barge-in state.
func (m *Manager) ClearBargeIn() {
	m.immediate.BargeInUtterance = ""
}

// BuildContext copies the last MaxConversationTurns entries of history
// into the immediate buffer, renders and truncates every buffer to its
// budget, and returns the combined FOVContext.
func (m *Manager) BuildContext(history []Turn, bargeIn string) FOVContext {
	if m.episodic.SessionStart.IsZero() {
		m.episodic.SessionStart = time.Now()
	}
	m.episodic.SessionDurationMinutes = time.Since(m.episodic.SessionStart).Minutes()

	trimmed := history
	if len(trimmed) > m.budget.MaxConversationTurns {
		trimmed = trimmed[len(trimmed)-m.budget.MaxConversationTurns:]
	}
	m.immediate.RecentTurns = trimmed
	if bargeIn != "" {
		m.immediate.BargeInUtterance = bargeIn
	}

	return FOVContext{
		SystemPrompt: m.systemPrompt,
		Semantic:     truncateToBudget(m.semantic.render(), m.budget.Semantic),
		Working:      truncateToBudget(m.working.render(), m.budget.Working),
		Episodic:     truncateToBudget(m.episodic.render(), m.budget.Episodic),
		Immediate:    truncateToBudget(m.immediate.render(), m.budget.Immediate),
	}
}

// BuildMessagesForLLM returns the combined system message followed by
// the last MaxConversationTurns history entries mapped to {role,
// content}. len(result) <= MaxConversationTurns+1.
func (m *Manager) BuildMessagesForLLM(history []Turn, bargeIn string) []Message {
	ctx := m.BuildContext(history, bargeIn)

	trimmed := history
	if len(trimmed) > m.budget.MaxConversationTurns {
		trimmed = trimmed[len(trimmed)-m.budget.MaxConversationTurns:]
	}

	messages := make([]Message, 0, len(trimmed)+1)
	messages = append(messages, Message{Role: "system", Content: ctx.ToSystemMessage()})
	for _, t := range trimmed {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}
	return messages
}

// Reset re-initializes all four buffers.
func (m *Manager) Reset() {
	m.immediate = &ImmediateBuffer{}
	m.working = &WorkingBuffer{}
	m.episodic = newEpisodicBuffer()
	m.semantic = &SemanticBuffer{}
}

// GetStateSnapshot returns a debug-oriented map of the manager's current
// state.
func (m *Manager) GetStateSnapshot() map[string]any {
	return map[string]any{
		"tier":               m.tier,
		"budget":             m.budget,
		"immediate_turns":    len(m.immediate.RecentTurns),
		"barge_in":           m.immediate.BargeInUtterance,
		"working_topic":      m.working.TopicTitle,
		"episodic_topics":    len(m.episodic.TopicSummaries),
		"episodic_questions": len(m.episodic.UserQuestions),
		"semantic_position":  m.semantic.Position,
		"learner_signals":    m.episodic.LearnerSignals,
	}
}
