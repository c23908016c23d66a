package models

import "time"

// AgentEvent is the union message published on agent:responses. Every event
// carries the user scope and a timestamp; consumers switch on Type.
type AgentEvent struct {
	Type           string    `json:"type"` // status | action | message | token | error | plan_update | step_update
	Action         string    `json:"action,omitempty"`
	Description    string    `json:"description,omitempty"`
	Message        string    `json:"message,omitempty"`
	Agent          string    `json:"agent"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// ToolCallEvent mirrors an in-iteration tool invocation on agent:tool_calls.
type ToolCallEvent struct {
	Agent      string         `json:"agent"`
	TaskID     string         `json:"task_id"`
	ToolCallID string         `json:"tool_call_id"`
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// ToolResultEvent mirrors a tool outcome on agent:tool_results.
type ToolResultEvent struct {
	Agent      string    `json:"agent"`
	TaskID     string    `json:"task_id"`
	ToolCallID string    `json:"tool_call_id"`
	Tool       string    `json:"tool"`
	Success    bool      `json:"success"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// TaskProgress is published on task:<id>:progress as a task advances.
type TaskProgress struct {
	TaskID    string    `json:"task_id"`
	Phase     Phase     `json:"phase"`
	Iteration int       `json:"iteration"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
