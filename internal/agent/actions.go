package agent

import (
	"context"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/pkg/models"
)

// publishAction emits an action event on agent:responses, but only when a
// user is in scope; background tasks stay silent.
func (a *Agent) publishAction(ctx context.Context, action, description string) {
	userID, conversationID := a.scope()
	if userID == "" {
		return
	}
	ev := models.AgentEvent{
		Type:           "action",
		Action:         action,
		Description:    description,
		Agent:          a.cfg.Name,
		UserID:         userID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	if err := a.deps.Bus.Publish(ctx, bus.TopicResponses, ev); err != nil {
		a.logger.Warn("action publish failed", "action", action, "error", err)
	}
}

// publishMessage emits a user-facing message event on agent:responses.
func (a *Agent) publishMessage(ctx context.Context, text string) {
	userID, conversationID := a.scope()
	if userID == "" {
		return
	}
	ev := models.AgentEvent{
		Type:           "message",
		Message:        text,
		Agent:          a.cfg.Name,
		UserID:         userID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	if err := a.deps.Bus.Publish(ctx, bus.TopicResponses, ev); err != nil {
		a.logger.Warn("message publish failed", "error", err)
	}
}

// publishStatus announces a status transition on agent:status.
func (a *Agent) publishStatus(ctx context.Context, status models.AgentStatus) {
	a.setStatus(status)
	msg := models.AgentStatusMessage{
		Agent:     a.cfg.Name,
		AgentType: a.cfg.Type,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if err := a.deps.Bus.Publish(ctx, bus.TopicStatus, msg); err != nil {
		a.logger.Warn("status publish failed", "status", status, "error", err)
	}
}

// publishProgress emits a per-task progress event.
func (a *Agent) publishProgress(ctx context.Context, taskID string, phase models.Phase, iteration int, detail string) {
	progress := models.TaskProgress{
		TaskID:    taskID,
		Phase:     phase,
		Iteration: iteration,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
	if err := a.deps.Bus.Publish(ctx, bus.ProgressTopic(taskID), progress); err != nil {
		a.logger.Warn("progress publish failed", "task_id", taskID, "error", err)
	}
}
