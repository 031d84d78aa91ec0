package fovcontext

import (
	"fmt"
	"strings"
	"time"
)

// Turn is one exchange in the conversation history.
type Turn struct {
	Role      string // "user" | "assistant"
	Content   string
	BargeIn   bool
	Timestamp time.Time
}

// ImmediateBuffer holds the most recent conversational state.
type ImmediateBuffer struct {
	RecentTurns           []Turn
	BargeInUtterance      string
	CurrentSegment        string
	InterruptedAtPosition int
	HasInterruption       bool
}

// render emits sections highest-priority first so truncation sacrifices
// the oldest turns first: barge-in, interrupted segment, then turns in
// reverse chronological order.
func (b *ImmediateBuffer) render() string {
	var parts []string
	if b.BargeInUtterance != "" {
		parts = append(parts, "[USER INTERRUPTED]: "+b.BargeInUtterance)
	}
	if b.HasInterruption && b.CurrentSegment != "" {
		parts = append(parts, "[INTERRUPTED CONTENT]: "+b.CurrentSegment)
	}
	for i := len(b.RecentTurns) - 1; i >= 0; i-- {
		t := b.RecentTurns[i]
		parts = append(parts, fmt.Sprintf("%s: %s", strings.ToUpper(t.Role), t.Content))
	}
	return strings.Join(parts, "\n")
}

// WorkingBuffer holds the topic currently being taught.
type WorkingBuffer struct {
	TopicID               string
	TopicTitle            string
	TopicContent          string
	LearningObjectives    []string
	GlossaryTerms         []string
	MisconceptionTriggers []string
}

func (b *WorkingBuffer) render() string {
	var sb strings.Builder
	if b.TopicTitle != "" {
		sb.WriteString("CURRENT TOPIC: " + b.TopicTitle + "\n")
	}
	if len(b.LearningObjectives) > 0 {
		sb.WriteString("LEARNING OBJECTIVES:\n")
		for _, o := range b.LearningObjectives {
			sb.WriteString("- " + o + "\n")
		}
	}
	if b.TopicContent != "" {
		sb.WriteString("TOPIC OUTLINE: " + b.TopicContent + "\n")
	}
	if len(b.GlossaryTerms) > 0 {
		sb.WriteString("KEY TERMS: " + strings.Join(capAt(b.GlossaryTerms, 5), ", ") + "\n")
	}
	if len(b.MisconceptionTriggers) > 0 {
		sb.WriteString("COMMON MISCONCEPTIONS: " + strings.Join(capAt(b.MisconceptionTriggers, 3), ", ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TopicSummary is one bounded entry in the episodic buffer's history.
type TopicSummary struct {
	TopicTitle string
	MasteryPct float64
}

// LearnerSignals tracks cumulative signals observed across the session.
type LearnerSignals struct {
	ClarificationRequests int
	RepetitionRequests    int
	ConfusionIndicators   int
	PacePreference        string
	TopicsMastered        int
	StrugglingConcepts    []string
}

// EpisodicBuffer holds bounded session-scoped history: at most
// 10 topic summaries and 10 user questions, oldest dropped on overflow.
type EpisodicBuffer struct {
	TopicSummaries         []TopicSummary
	UserQuestions          []string
	LearnerSignals         LearnerSignals
	SessionStart           time.Time
	SessionDurationMinutes float64

	maxTopicSummaries int
	maxUserQuestions  int
}

const (
	episodicMaxTopicSummaries = 10
	episodicMaxUserQuestions  = 10
)

func newEpisodicBuffer() *EpisodicBuffer {
	return &EpisodicBuffer{maxTopicSummaries: episodicMaxTopicSummaries, maxUserQuestions: episodicMaxUserQuestions}
}

// AddTopicSummary appends s, dropping the oldest entry once the bound is
// exceeded.
func (b *EpisodicBuffer) AddTopicSummary(s TopicSummary) {
	b.TopicSummaries = append(b.TopicSummaries, s)
	if len(b.TopicSummaries) > b.maxTopicSummaries {
		b.TopicSummaries = b.TopicSummaries[len(b.TopicSummaries)-b.maxTopicSummaries:]
	}
}

// AddUserQuestion appends q, dropping the oldest once the bound is
// exceeded.
func (b *EpisodicBuffer) AddUserQuestion(q string) {
	b.UserQuestions = append(b.UserQuestions, q)
	if len(b.UserQuestions) > b.maxUserQuestions {
		b.UserQuestions = b.UserQuestions[len(b.UserQuestions)-b.maxUserQuestions:]
	}
}

func (b *EpisodicBuffer) render() string {
	var sb strings.Builder
	if !b.SessionStart.IsZero() {
		fmt.Fprintf(&sb, "SESSION START: %s (%.0f min)\n", b.SessionStart.Format(time.RFC3339), b.SessionDurationMinutes)
	}

	var signalParts []string
	sig := b.LearnerSignals
	if sig.ClarificationRequests > 0 {
		signalParts = append(signalParts, fmt.Sprintf("clarification requests: %d", sig.ClarificationRequests))
	}
	if sig.RepetitionRequests > 0 {
		signalParts = append(signalParts, fmt.Sprintf("repetition requests: %d", sig.RepetitionRequests))
	}
	if sig.ConfusionIndicators > 0 {
		signalParts = append(signalParts, fmt.Sprintf("confusion indicators: %d", sig.ConfusionIndicators))
	}
	if sig.TopicsMastered > 0 {
		signalParts = append(signalParts, fmt.Sprintf("topics mastered: %d", sig.TopicsMastered))
	}
	if sig.PacePreference != "" {
		signalParts = append(signalParts, "pace preference: "+sig.PacePreference)
	}
	if len(signalParts) > 0 {
		sb.WriteString("LEARNER SIGNALS: " + strings.Join(signalParts, ", ") + "\n")
	}

	recentTopics := lastN(b.TopicSummaries, 5)
	if len(recentTopics) > 0 {
		sb.WriteString("RECENT TOPICS:\n")
		for _, t := range recentTopics {
			fmt.Fprintf(&sb, "- %s (%.0f%% mastery)\n", t.TopicTitle, t.MasteryPct)
		}
	}

	recentQuestions := lastNStr(b.UserQuestions, 3)
	if len(recentQuestions) > 0 {
		sb.WriteString("RECENT QUESTIONS:\n")
		for _, q := range recentQuestions {
			sb.WriteString("- " + q + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// CurriculumPosition locates the learner within the curriculum outline.
type CurriculumPosition struct {
	CurriculumID      string
	Title             string
	CurrentTopicIndex int
	TotalTopics       int
	UnitTitle         string
	ModuleTitle       string
}

// SemanticBuffer holds the broader curriculum map.
type SemanticBuffer struct {
	CurriculumOutline  string
	Position           CurriculumPosition
	PrerequisiteTopics []string
	UpcomingTopics     []string
}

func (b *SemanticBuffer) render() string {
	var sb strings.Builder
	if b.Position.Title != "" {
		sb.WriteString("CURRICULUM: " + b.Position.Title + "\n")
	}
	if b.Position.TotalTopics > 0 {
		fmt.Fprintf(&sb, "PROGRESS: Topic %d/%d\n", b.Position.CurrentTopicIndex+1, b.Position.TotalTopics)
	}
	if b.CurriculumOutline != "" {
		sb.WriteString("OUTLINE: " + b.CurriculumOutline + "\n")
	}
	if prereqs := capAt(b.PrerequisiteTopics, 3); len(prereqs) > 0 {
		sb.WriteString("PREREQUISITES: " + strings.Join(prereqs, ", ") + "\n")
	}
	if upcoming := capAt(b.UpcomingTopics, 3); len(upcoming) > 0 {
		sb.WriteString("UPCOMING: " + strings.Join(upcoming, ", ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func capAt[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastN(s []TopicSummary, n int) []TopicSummary {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastNStr(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
