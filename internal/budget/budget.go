// Package budget provides token budget estimation and chat history trimming
// for the query layer. Because notebooks can point at arbitrary backends with
// different tokenizers, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters (English prose). This deliberately
// under-estimates token counts to leave headroom for model-specific overhead.
package budget

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation. 4 chars/token is standard for English; using 3 would be
	// more aggressive but risks overflowing context windows.
	charsPerToken = 4

	// DefaultMaxHistoryTokens is the input budget reserved for prior chat
	// turns. Conservative enough to leave room for retrieved context and
	// the answer on 8k-context models.
	DefaultMaxHistoryTokens = 2000

	// longQuestionChars is the question length above which a small model is
	// assumed to struggle with corpus-wide retrieval modes.
	longQuestionChars = 1500
)

// smallModelFragments mark model names known to carry few parameters. Local
// naming conventions embed the parameter count; hosted ones use size tiers.
var smallModelFragments = []string{
	"1b", "1.5b", "2b", "3b", "4b", "7b", "8b",
	"mini", "tiny", "small",
	"gemma", "phi",
}

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

// TrimHistory removes the oldest messages from history until the total
// estimated token count of fixed + history fits within maxTokens. fixed
// contains messages that must not be trimmed (system prompt, current user
// message); history contains prior conversation turns dropped oldest-first.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}

	fixedTokens := EstimateMessages(fixed)

	// History is typically ≤20 messages; a linear scan dropping the oldest
	// is clear and correct.
	for len(history) > 0 {
		if fixedTokens+EstimateMessages(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// IsSmallModel reports whether the model name suggests a small-parameter
// model. Matching is loose: local model tags embed the parameter count
// (llama3.2:3b), hosted models use size tiers (gpt-4o-mini).
func IsSmallModel(model string) bool {
	name := strings.ToLower(model)
	for _, frag := range smallModelFragments {
		if strings.Contains(name, frag) {
			return true
		}
	}
	return false
}

// IsLongQuestion reports whether the question is long enough that a small
// model is likely to overflow its context in a corpus-wide retrieval mode.
func IsLongQuestion(question string) bool {
	return len(question) > longQuestionChars
}
