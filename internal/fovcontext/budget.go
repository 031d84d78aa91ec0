// Package fovcontext implements the foveated conversational context
// manager: a four-tier, token-budgeted prompt builder for LLM
// tutoring calls. It performs no I/O, purely CPU/memory.
package fovcontext

// Tier is a bucket of model context-window sizes mapped to a fixed
// per-buffer token budget table.
type Tier string

const (
	TierCloud    Tier = "cloud"
	TierMidRange Tier = "mid_range"
	TierOnDevice Tier = "on_device"
	TierTiny     Tier = "tiny"
)

// Budget pins the per-buffer token allowance and conversation-turn cap
// for a Tier. Components always sum exactly to Total.
type Budget struct {
	Immediate            int
	Working              int
	Episodic             int
	Semantic             int
	Total                int
	MaxConversationTurns int
}

var tierBudgets = map[Tier]Budget{
	TierCloud:    {Immediate: 4000, Working: 4000, Episodic: 2500, Semantic: 1500, Total: 12000, MaxConversationTurns: 20},
	TierMidRange: {Immediate: 3000, Working: 2500, Episodic: 1500, Semantic: 1000, Total: 8000, MaxConversationTurns: 12},
	TierOnDevice: {Immediate: 1500, Working: 1500, Episodic: 700, Semantic: 300, Total: 4000, MaxConversationTurns: 6},
	TierTiny:     {Immediate: 1000, Working: 600, Episodic: 300, Semantic: 100, Total: 2000, MaxConversationTurns: 3},
}

// TierForContextWindow derives the Tier from a model's context window
// size: >=100000 -> CLOUD, >=32000 -> MID_RANGE, >=8000 -> ON_DEVICE,
// else TINY.
func TierForContextWindow(contextWindow int) Tier {
	switch {
	case contextWindow >= 100000:
		return TierCloud
	case contextWindow >= 32000:
		return TierMidRange
	case contextWindow >= 8000:
		return TierOnDevice
	default:
		return TierTiny
	}
}

// BudgetFor returns the fixed budget table entry for tier.
func BudgetFor(tier Tier) Budget {
	return tierBudgets[tier]
}

// estimateTokens approximates token count as chars/4. Rendering and
// truncation both use this single estimate.
func estimateTokens(s string) int {
	return len(s) / 4
}

// truncateToBudget hard-cuts rendered text to its token budget: if the
// estimated token count exceeds budget, cut at budget*4-3 chars and
// append "...". A budget of 0 returns an empty string.
func truncateToBudget(rendered string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if estimateTokens(rendered) <= budget {
		return rendered
	}
	cut := budget*4 - 3
	if cut < 0 {
		cut = 0
	}
	if cut > len(rendered) {
		cut = len(rendered)
	}
	return rendered[:cut] + "..."
}
