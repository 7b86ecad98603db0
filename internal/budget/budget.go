// Package budget estimates prompt sizes and trims conversation history so the
// answer synthesis prompt fits the model's context window. The agent runs on
// several backends with different tokenizers, so estimates use a
// character heuristic: about 4 characters per token for Latin text and one
// token per CJK character.
package budget

import (
	"unicode"

	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the Latin-script character-to-token ratio.
	charsPerToken = 4

	// messageOverhead is the per-message framing cost in most chat APIs.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models with room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s. Han, Hiragana, Katakana and
// Hangul characters count as one token each; everything else is charged
// at charsPerToken characters per token. Non-empty input costs at least 1.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	wide, narrow := 0, 0
	for _, r := range s {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			wide++
		} else {
			narrow++
		}
	}
	return max(1, wide+narrow/charsPerToken)
}

// EstimateMessages sums the estimated cost of msgs, role and content
// included.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// TrimHistory drops the oldest history messages until fixed plus history
// fits within maxTokens. fixed (system prompt, references, the current
// question) is never trimmed; when fixed alone exceeds the budget the
// returned history is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	if len(history) == 0 {
		return history
	}
	fixedTokens := EstimateMessages(fixed)

	// Walk from the newest message back; the kept window is a suffix.
	used := fixedTokens
	keep := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		used += EstimateMessages(history[i : i+1])
		if used > maxTokens {
			break
		}
		keep = i
	}
	return history[keep:]
}
