package models

import "time"

// AgentStatus is the coarse lifecycle status of an agent.
type AgentStatus string

const (
	StatusIdle    AgentStatus = "IDLE"
	StatusBusy    AgentStatus = "BUSY"
	StatusOffline AgentStatus = "OFFLINE"
)

// TaskState is the control state of the task currently being processed.
type TaskState string

const (
	TaskRunning   TaskState = "RUNNING"
	TaskPaused    TaskState = "PAUSED"
	TaskCancelled TaskState = "CANCELLED"
	TaskCompleted TaskState = "COMPLETED"
)

// TaskStatus is the terminal status reported in a TaskResponse.
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Usage accumulates token and cost totals across one task.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CachedTokens int     `json:"cached_tokens"`
	TotalCost    float64 `json:"total_cost"`
	APICalls     int     `json:"api_calls"`
}

// Add folds another usage sample into the accumulator.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CachedTokens += other.CachedTokens
	u.TotalCost += other.TotalCost
	u.APICalls += other.APICalls
}

// TaskRequest is the unit of work dispatched to an agent over the bus.
type TaskRequest struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AgentType     string         `json:"agent_type"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	MaxIterations int            `json:"max_iterations,omitempty"`
	Context       map[string]any `json:"context,omitempty"`

	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

// TaskResponse reports the outcome of a processed task.
type TaskResponse struct {
	TaskID        string         `json:"task_id"`
	Status        TaskStatus     `json:"status"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	AgentType     string         `json:"agent_type"`
	DurationMS    int64          `json:"duration_ms"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Usage         Usage          `json:"usage"`
}

// ControlAction is a task-control verb published on the control topic.
type ControlAction string

const (
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlCancel ControlAction = "cancel"
)

// TaskControl is a control message targeting the task currently owned by the
// matching user/conversation scope.
type TaskControl struct {
	Action         ControlAction `json:"action"`
	UserID         string        `json:"user_id"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

// PendingMessage is a user interjection queued while a task is running. It is
// consumed at the top of the next loop iteration, never mid-flight.
type PendingMessage struct {
	Content        string `json:"content"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// AgentHeartbeat is published periodically and mirrored into the key-value
// store under agent:heartbeat:<name> with a short TTL.
type AgentHeartbeat struct {
	Agent          string      `json:"agent"`
	Timestamp      time.Time   `json:"timestamp"`
	Status         AgentStatus `json:"status"`
	CurrentTask    string      `json:"current_task,omitempty"`
	UptimeSeconds  float64     `json:"uptime_seconds"`
	TasksCompleted int         `json:"tasks_completed"`
}

// AgentStatusMessage announces an agent status transition.
type AgentStatusMessage struct {
	Agent     string      `json:"agent"`
	AgentType string      `json:"agent_type"`
	Status    AgentStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}
