// Package budget provides token budget estimation for answer generation.
// Because dbrag supports multiple LLM backends with different tokenizers,
// this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and SQL). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English and code; using 3
	// would be more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Conservative enough to fit within 8k-context models while leaving
	// room for the output.
	DefaultMaxContextTokens = 6000

	// DefaultTotalOutputTokens is the default combined output budget for a
	// question, divided across its detected intents.
	DefaultTotalOutputTokens = 512

	// MinPerIntentTokens is the floor for any single intent's output budget.
	// Below this, answers degrade into truncated fragments.
	MinPerIntentTokens = 128
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		// Each message has a small per-message overhead (~4 tokens in most APIs).
		total += 4
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// PerIntent divides a total output token budget across numIntents branches,
// clamped to MinPerIntentTokens. A non-positive total falls back to
// DefaultTotalOutputTokens; numIntents below 1 is treated as 1.
func PerIntent(total, numIntents int) int {
	if total <= 0 {
		total = DefaultTotalOutputTokens
	}
	if numIntents < 1 {
		numIntents = 1
	}
	per := total / numIntents
	if per < MinPerIntentTokens {
		return MinPerIntentTokens
	}
	return per
}

// TrimContext removes the lowest-ranked context documents from the tail of
// docs until fixed + docs fits within maxTokens. docs must be ordered
// best-first so that trimming drops the weakest evidence.
//
// If even an empty docs slice exceeds the budget, the empty slice is
// returned (fixed messages are never dropped here).
func TrimContext(fixed []*schema.Message, docs []string, maxTokens int) []string {
	if len(docs) == 0 {
		return docs
	}

	fixedTokens := EstimateMessages(fixed)

	docTokens := 0
	for _, d := range docs {
		docTokens += Estimate(d)
	}

	for len(docs) > 0 && fixedTokens+docTokens > maxTokens {
		// Drop the last (weakest) document.
		docTokens -= Estimate(docs[len(docs)-1])
		docs = docs[:len(docs)-1]
	}
	return docs
}
