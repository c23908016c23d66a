// Package llm defines the abstract LLM contract the agent runtime depends
// on, a model-tier router, and the Anthropic-backed implementation.
package llm

import (
	"context"

	"github.com/pai-platform/pai/pkg/models"
)

// Stop reasons reported by providers. Providers may report additional
// vendor-specific reasons; the loop treats anything unknown as terminal.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Model tiers accepted in Request.Model. The runtime passes "auto" and lets
// the router choose; subagents request a named tier directly.
const (
	TierAuto     = "auto"
	TierFast     = "fast"
	TierBalanced = "balanced"
	TierPowerful = "powerful"
)

// ToolDef is an LLM-consumable tool schema projection.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema []byte `json:"input_schema"`
}

// Request is a single send-message call.
type Request struct {
	// Model is a tier name (auto|fast|balanced|powerful) or a concrete
	// model identifier.
	Model     string
	MaxTokens int
	System    string
	Messages  []models.Message
	Tools     []ToolDef
}

// Response is the provider-agnostic result of a send-message call.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason string

	InputTokens  int
	OutputTokens int
	CachedTokens int

	Provider string
	Model    string
}

// Client is the abstract LLM contract. Implementations must be safe for
// concurrent use; the runtime issues calls from many agent loops at once.
type Client interface {
	// CreateMessage sends the conversation and returns the model's reply.
	CreateMessage(ctx context.Context, req *Request) (*Response, error)

	// Name returns the provider name for logging and metrics.
	Name() string
}
