// Package budget provides prompt token estimation. Because answers can be
// synthesized by several LLM backends with different tokenizers, this
// package uses a conservative character-based heuristic: 4 ASCII bytes per
// token, and one token per non-ASCII rune (CJK text tokenizes at roughly a
// character per token).
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// It fits 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
// Any non-empty string counts as at least one token.
func Estimate(s string) int {
	ascii, wide := 0, 0
	for _, r := range s {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			wide++
		}
	}
	n := ascii/charsPerToken + wide
	if n == 0 && s != "" {
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

// Check estimates msgs and reports whether they exceed maxTokens.
// maxTokens <= 0 uses DefaultMaxContextTokens.
func Check(msgs []*schema.Message, maxTokens int) (tokens int, over bool) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxContextTokens
	}
	tokens = EstimateMessages(msgs)
	return tokens, tokens > maxTokens
}
