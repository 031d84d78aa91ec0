package confidence

import (
	"strings"
	"testing"
)

func TestAnalyzeConfidentResponseHasNoMarkers(t *testing.T) {
	m := NewMonitor()
	a := m.Analyze("The capital of France is Paris.")
	if len(a.Markers) != 0 {
		t.Fatalf("expected no markers, got %v", a.Markers)
	}
	if a.Confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", a.Confidence)
	}
}

func TestAnalyzeHedgingWeight(t *testing.T) {
	m := NewMonitor()
	a := m.Analyze("I'm not sure, but the answer might be 42.")
	if a.Hedging == 0 {
		t.Fatal("expected hedging marker to fire")
	}
	wantUncertainty := a.Hedging*DefaultWeights.Hedging + a.Deflection*DefaultWeights.Deflection + a.KnowledgeGap*DefaultWeights.Gap + a.Vague*DefaultWeights.Vague
	if a.Uncertainty != wantUncertainty {
		t.Fatalf("uncertainty = %v, want %v", a.Uncertainty, wantUncertainty)
	}
	if a.Confidence != clamp01(1-wantUncertainty) {
		t.Fatalf("confidence = %v, want %v", a.Confidence, clamp01(1-wantUncertainty))
	}
}

func TestAnalyzeKnowledgeGapMarker(t *testing.T) {
	m := NewMonitor()
	a := m.Analyze("I don't have information about that specific topic.")
	if a.KnowledgeGap == 0 {
		t.Fatal("expected knowledge-gap marker to fire")
	}
	found := false
	for _, mk := range a.Markers {
		if mk == MarkerKnowledgeGap {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MarkerKnowledgeGap in %v", a.Markers)
	}
}

func TestRecommendExpansionOnKnowledgeGap(t *testing.T) {
	m := NewMonitor()
	a := m.Analyze("I don't have information about that specific topic.")
	rec := m.RecommendExpansion(a)
	if rec == nil {
		t.Fatal("expected an expansion recommendation for a knowledge-gap response")
	}
	if !rec.ShouldExpand {
		t.Fatal("expected ShouldExpand = true")
	}
	if rec.Scope != ScopeFullCurriculum {
		t.Fatalf("scope = %s, want %s", rec.Scope, ScopeFullCurriculum)
	}
}

func TestRecommendExpansionNilForConfidentResponse(t *testing.T) {
	m := NewMonitor()
	a := m.Analyze("Photosynthesis converts sunlight into chemical energy.")
	if rec := m.RecommendExpansion(a); rec != nil {
		t.Fatalf("expected no recommendation for a confident response, got %+v", rec)
	}
}

func TestTrendRequiresThreeScores(t *testing.T) {
	m := NewMonitor()
	m.Analyze("Confident answer.")
	m.Analyze("Another confident answer.")
	if trend := m.Trend(); trend != TrendStable {
		t.Fatalf("trend with <3 scores = %s, want stable (insufficient data default)", trend)
	}
}

func TestTrendDeclining(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 3; i++ {
		m.Analyze("Definitely correct, no doubt.")
	}
	for i := 0; i < 3; i++ {
		m.Analyze("I'm not sure, maybe, I don't have information about that.")
	}
	if trend := m.Trend(); trend != TrendDeclining {
		t.Fatalf("trend = %s, want declining", trend)
	}
}

func TestVagueWordCountCapped(t *testing.T) {
	// maxVagueCountPerWord = 3: a 4th/5th occurrence of the same word adds
	// no further weight. Pad the 3-occurrence string with filler so both
	// inputs share the same length, isolating the count effect from
	// scoreVague's length-based normalizer.
	three := strings.Repeat("something ", 3) + strings.Repeat("x", 20)
	five := strings.Repeat("something ", 5)
	if len(three) != len(five) {
		t.Fatalf("test setup: lengths differ, %d vs %d", len(three), len(five))
	}
	if scoreVague(three) != scoreVague(five) {
		t.Fatalf("vague score should cap at 3 occurrences regardless of extra repeats: got %v vs %v", scoreVague(three), scoreVague(five))
	}
}
