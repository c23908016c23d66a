// Package convo manages per-agent conversation history: token accounting,
// tool-result truncation, pair-safe history truncation, and LLM-backed
// summarization with an extractive fallback.
package convo

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/pai-platform/pai/pkg/models"
)

// Token ceilings. Counts are approximations used for budgeting, not billing.
const (
	MaxContextTokens       = 200_000
	SafeContextTokens      = 180_000
	SummarizeTriggerTokens = 100_000

	// Fixed per-block overhead for structured blocks.
	toolUseOverheadTokens = 20
	imageOverheadTokens   = 800
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenEncoding returns the shared cl100k_base encoder, or nil when the
// encoding data is unavailable; callers fall back to the 4-chars-per-token
// rule.
func tokenEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTextTokens approximates the token count of a string.
func CountTextTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := tokenEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	// Conservative fallback.
	return (len(text) + 3) / 4
}

// CountMessageTokens approximates the token count of one message, including
// per-block overhead for structured blocks.
func CountMessageTokens(msg *models.Message) int {
	total := 4 // role and framing
	for _, block := range msg.Content {
		switch block.Type {
		case models.BlockText:
			total += CountTextTokens(block.Text)
		case models.BlockToolUse:
			total += toolUseOverheadTokens
			total += CountTextTokens(block.Name)
			total += CountTextTokens(string(block.Input))
		case models.BlockToolResult:
			total += CountTextTokens(block.Content)
		case models.BlockImage:
			total += imageOverheadTokens
		}
	}
	return total
}

// CountHistoryTokens approximates the token count of a whole history.
func CountHistoryTokens(history []models.Message) int {
	total := 0
	for i := range history {
		total += CountMessageTokens(&history[i])
	}
	return total
}
