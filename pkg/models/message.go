// Package models contains the shared wire types exchanged between the agent
// runtime, the message bus, the memory tiers, and external transports.
package models

import "encoding/json"

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleUser marks messages authored by the user (or carrying tool results).
	RoleUser Role = "user"
	// RoleAssistant marks messages authored by the model.
	RoleAssistant Role = "assistant"
)

// Content block types as persisted in conversation history.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
	BlockImage      = "image"
)

// ContentBlock is a single typed block inside a conversation message.
// Exactly one set of fields is populated depending on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// Text content (type == "text").
	Text string `json:"text,omitempty"`

	// Tool use (type == "tool_use").
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result (type == "tool_result").
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Image (type == "image").
	Source *ImageSource `json:"source,omitempty"`
}

// ImageSource carries inline image data for vision-capable models.
type ImageSource struct {
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// Message is one turn of conversation history. Content is always stored in
// normalized block form: assistant turns as text + tool_use blocks, user
// turns as text or tool_result blocks.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// TextMessage builds a message containing a single text block.
func TextMessage(role Role, text string) Message {
	return Message{
		Role:    role,
		Content: []ContentBlock{{Type: BlockText, Text: text}},
	}
}

// Text concatenates all text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Content {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolResult reports whether any block is a tool_result.
func (m Message) HasToolResult() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// ToolCall is a tool invocation requested by the model in one turn.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}
