package fovcontext

import (
	"strings"
	"testing"
)

func TestTierForContextWindow(t *testing.T) {
	cases := []struct {
		window int
		want   Tier
	}{
		{200000, TierCloud},
		{100000, TierCloud},
		{64000, TierMidRange},
		{32000, TierMidRange},
		{16000, TierOnDevice},
		{8000, TierOnDevice},
		{4000, TierTiny},
		{0, TierTiny},
	}
	for _, c := range cases {
		if got := TierForContextWindow(c.window); got != c.want {
			t.Errorf("TierForContextWindow(%d) = %s, want %s", c.window, got, c.want)
		}
	}
}

func TestBudgetForTierTable(t *testing.T) {
	b := BudgetFor(TierCloud)
	if b.Immediate != 4000 || b.Working != 4000 || b.Episodic != 2500 || b.Semantic != 1500 || b.Total != 12000 || b.MaxConversationTurns != 20 {
		t.Fatalf("cloud budget = %+v, does not match tier table", b)
	}
	tiny := BudgetFor(TierTiny)
	if tiny.Immediate != 1000 || tiny.Working != 600 || tiny.Episodic != 300 || tiny.Semantic != 100 || tiny.Total != 2000 || tiny.MaxConversationTurns != 3 {
		t.Fatalf("tiny budget = %+v, does not match tier table", tiny)
	}
}

func TestTruncateToBudgetHardCuts(t *testing.T) {
	long := strings.Repeat("a", 100)
	got := truncateToBudget(long, 10)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated text to end with ellipsis, got %q", got)
	}
	if estimateTokens(got) > 10 {
		t.Fatalf("truncated text still exceeds budget: %d tokens", estimateTokens(got))
	}
}

func TestTruncateToBudgetZeroOrNegativeIsEmpty(t *testing.T) {
	if got := truncateToBudget("anything", 0); got != "" {
		t.Fatalf("expected empty string for zero budget, got %q", got)
	}
	if got := truncateToBudget("anything", -5); got != "" {
		t.Fatalf("expected empty string for negative budget, got %q", got)
	}
}

func TestBuildContextConcatenatesAllFourSections(t *testing.T) {
	m := NewManager(100000, "Be a good tutor.")
	m.SetCurrentTopic("t1", "Fractions", "content", []string{"obj1"}, []string{"term1"}, nil)
	m.SetCurriculumPosition("outline", CurriculumPosition{CurrentTopicIndex: 2, TotalTopics: 10}, nil, nil)
	m.RecordCompletion("Addition", 90)

	ctx := m.BuildContext(nil, "")
	msg := ctx.ToSystemMessage()

	for _, want := range []string{"=== CURRICULUM CONTEXT ===", "=== CURRENT TOPIC ===", "=== SESSION CONTEXT ===", "=== IMMEDIATE CONTEXT ===", "Be a good tutor."} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected system message to contain %q", want)
		}
	}
}

func TestBuildMessagesForLLMBoundsHistory(t *testing.T) {
	m := NewManager(4000, "") // tiny tier, MaxConversationTurns = 3
	history := []Turn{
		{Role: "user", Content: "1"},
		{Role: "assistant", Content: "2"},
		{Role: "user", Content: "3"},
		{Role: "assistant", Content: "4"},
		{Role: "user", Content: "5"},
	}
	messages := m.BuildMessagesForLLM(history, "")
	if len(messages) != 4 { // 1 system + 3 trimmed turns
		t.Fatalf("len(messages) = %d, want 4", len(messages))
	}
	if messages[0].Role != "system" {
		t.Fatalf("messages[0].Role = %q, want system", messages[0].Role)
	}
	if messages[1].Content != "3" {
		t.Fatalf("expected oldest-kept turn to be %q, got %q", "3", messages[1].Content)
	}
}

func TestResetClearsBuffers(t *testing.T) {
	m := NewManager(100000, "")
	m.RecordUserQuestion("why?")
	m.Reset()
	snap := m.GetStateSnapshot()
	if snap["episodic_questions"].(int) != 0 {
		t.Fatalf("expected episodic questions cleared after Reset, got %v", snap["episodic_questions"])
	}
}
