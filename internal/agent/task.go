package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/hooks"
	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/memory"
	"github.com/pai-platform/pai/internal/memory/phase"
	"github.com/pai-platform/pai/pkg/models"
)

func chatHistoryKey(conversationID string) string {
	return "pai:chat:" + conversationID
}

// ProcessTask runs one task end to end and returns (and publishes) its
// response. A failing tool never fails the task; only an error escaping the
// loop itself does.
func (a *Agent) ProcessTask(ctx context.Context, req *models.TaskRequest) *models.TaskResponse {
	started := time.Now()
	a.control.Reset()
	a.setCurrentTask(req.ID, req.UserID, req.ConversationID)
	a.publishStatus(ctx, models.StatusBusy)
	if a.deps.Metrics != nil {
		a.deps.Metrics.TasksStarted.WithLabelValues(a.cfg.Type).Inc()
		a.deps.Metrics.ActiveTasks.WithLabelValues(a.cfg.Type).Inc()
	}
	a.publishAction(ctx, "thinking", "Working on the task")

	defer func() {
		a.setCurrentTask("", "", "")
		a.publishStatus(ctx, models.StatusIdle)
		if a.deps.Metrics != nil {
			a.deps.Metrics.ActiveTasks.WithLabelValues(a.cfg.Type).Dec()
		}
	}()

	taskEvent := &hooks.TaskEvent{Request: req, AgentType: a.cfg.Type}
	a.deps.Hooks.RunPreTask(ctx, taskEvent)

	a.loadConversation(ctx, req)
	description := taskDescription(req)
	a.convo.AppendText(models.RoleUser, description)

	systemPrompt := a.buildSystemPrompt(ctx, req, description)
	a.recordEarlyTraces(ctx, req, description)

	maxIterations := a.cfg.MaxIterations
	if req.MaxIterations > 0 {
		maxIterations = req.MaxIterations
	}
	planExplore := req.Type == "plan_explore"

	loopRes, err := a.runLoop(ctx, req, systemPrompt, maxIterations, planExplore)

	resp := &models.TaskResponse{
		TaskID:        req.ID,
		AgentType:     a.cfg.Type,
		CorrelationID: req.CorrelationID,
		DurationMS:    time.Since(started).Milliseconds(),
	}
	if loopRes != nil {
		resp.Usage = loopRes.Usage
	}

	if err != nil {
		a.failTask(ctx, req, resp, err, started)
	} else {
		a.completeTask(ctx, req, resp, loopRes, started)
	}

	a.mu.Lock()
	a.tasksCompleted++
	a.mu.Unlock()
	if a.deps.Metrics != nil {
		a.deps.Metrics.TasksCompleted.WithLabelValues(a.cfg.Type, string(resp.Status)).Inc()
	}

	a.publishBus(ctx, bus.ResponseTopic(req.ID), resp)
	return resp
}

func (a *Agent) completeTask(ctx context.Context, req *models.TaskRequest, resp *models.TaskResponse, loopRes *loopResult, started time.Time) {
	resp.Status = models.TaskStatusCompleted
	resp.Result = map[string]any{
		"response":   loopRes.Response,
		"iterations": loopRes.Iterations,
	}
	if loopRes.Cancelled {
		resp.Result["cancelled"] = true
	}
	if loopRes.Warning != "" {
		resp.Result["warning"] = loopRes.Warning
	}

	verify := map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
		"iterations":  loopRes.Iterations,
		"tool_calls":  loopRes.ToolCalls,
	}
	if loopRes.Cancelled {
		verify["cancelled"] = true
	}
	if err := a.deps.Memory.Hot.StoreTaskTrace(ctx, req.ID, models.PhaseVerify, verify); err != nil {
		a.logger.Warn("verify trace failed", "task_id", req.ID, "error", err)
	}

	a.deps.Hooks.RunPostTask(ctx, &hooks.TaskEvent{Request: req, Response: resp, AgentType: a.cfg.Type})
	if loopRes.Cancelled {
		// A user-initiated cancel says nothing about the consulted
		// learnings; drop the tracking instead of decaying them.
		if a.deps.Phase != nil {
			a.deps.Phase.InvalidateTask(req.ID)
		}
	} else {
		a.applyPhaseFeedback(ctx, req.ID, true)
	}
	a.saveConversation(ctx, req)
	a.flushMemory(ctx, req.ID)

	a.publishAction(ctx, "complete", "Task complete")
	if req.Type == "chat" {
		a.publishMessage(ctx, loopRes.Response)
	}
}

func (a *Agent) failTask(ctx context.Context, req *models.TaskRequest, resp *models.TaskResponse, taskErr error, started time.Time) {
	a.logger.Error("task failed", "task_id", req.ID, "error", taskErr)
	resp.Status = models.TaskStatusFailed
	resp.Error = taskErr.Error()

	verify := map[string]any{
		"duration_ms": time.Since(started).Milliseconds(),
		"error":       taskErr.Error(),
	}
	if err := a.deps.Memory.Hot.StoreTaskTrace(ctx, req.ID, models.PhaseVerify, verify); err != nil {
		a.logger.Warn("verify trace failed", "task_id", req.ID, "error", err)
	}

	a.storeErrorLearning(ctx, req, taskErr)
	a.applyPhaseFeedback(ctx, req.ID, false)
	a.publishAction(ctx, "error", taskErr.Error())
}

// storeErrorLearning records a failure as an error-category learning. The
// learning inherits the agent's base permission level.
func (a *Agent) storeErrorLearning(ctx context.Context, req *models.TaskRequest, taskErr error) {
	content := fmt.Sprintf("Task %q failed for agent %s: %s", taskDescription(req), a.cfg.Type, taskErr)
	l := models.NewLearning(content, models.PhaseVerify, "error")
	l.TaskID = req.ID
	l.AgentType = a.cfg.Type
	l.CreatedByAgent = a.cfg.Type
	l.PermissionLevel = a.cfg.BaseLevel
	l.Confidence = 0.7
	if req.ProjectID != "" {
		l.Scope = models.ScopeProject
		l.ProjectID = req.ProjectID
	}
	if _, err := a.deps.Memory.Warm.StoreLearning(ctx, l, true); err != nil && !errors.Is(err, memory.ErrQualityRejected) {
		a.logger.Warn("error learning not stored", "task_id", req.ID, "error", err)
	}
}

// loadConversation restores chat history for chat tasks and resets it for
// everything else.
func (a *Agent) loadConversation(ctx context.Context, req *models.TaskRequest) {
	a.convo.Reset()
	if req.Type != "chat" || req.ConversationID == "" {
		return
	}
	raw, err := a.deps.Store.Get(ctx, chatHistoryKey(req.ConversationID))
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			a.logger.Warn("chat history load failed", "conversation_id", req.ConversationID, "error", err)
		}
		return
	}
	var history []models.Message
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		a.logger.Warn("chat history undecodable", "conversation_id", req.ConversationID, "error", err)
		return
	}
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	a.convo.SetHistory(history)
}

func (a *Agent) saveConversation(ctx context.Context, req *models.TaskRequest) {
	if req.Type != "chat" || req.ConversationID == "" {
		return
	}
	history := a.convo.History()
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	data, err := json.Marshal(history)
	if err != nil {
		a.logger.Warn("chat history marshal failed", "conversation_id", req.ConversationID, "error", err)
		return
	}
	if err := a.deps.Store.Set(ctx, chatHistoryKey(req.ConversationID), string(data), memory.DefaultHotTTL); err != nil {
		a.logger.Warn("chat history save failed", "conversation_id", req.ConversationID, "error", err)
	}
}

// buildSystemPrompt combines the configured prompt with phase context
// retrieved for the task.
func (a *Agent) buildSystemPrompt(ctx context.Context, req *models.TaskRequest, description string) string {
	prompt := a.cfg.SystemPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("You are the %s agent. Complete the task using the available tools.", a.cfg.Type)
	}
	if a.deps.Phase == nil {
		return prompt
	}

	phaseCtx, err := a.deps.Phase.GetPhaseContext(ctx, &phase.Request{
		Phase:           models.PhasePlan,
		TaskID:          req.ID,
		TaskDescription: description,
		AgentType:       a.cfg.Type,
		PermissionLevel: a.deps.Registry.Context().CurrentLevel(),
		ProjectID:       req.ProjectID,
	})
	if err != nil || phaseCtx == nil {
		return prompt
	}

	var sections []string
	if len(phaseCtx.Learnings) > 0 {
		lines := make([]string, 0, len(phaseCtx.Learnings))
		for _, l := range phaseCtx.Learnings {
			lines = append(lines, "- "+l.Content)
		}
		sections = append(sections, "Relevant learnings from prior work:\n"+strings.Join(lines, "\n"))
	}
	if len(phaseCtx.Skills) > 0 {
		lines := make([]string, 0, len(phaseCtx.Skills))
		for _, s := range phaseCtx.Skills {
			lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
		}
		sections = append(sections, "Applicable skills:\n"+strings.Join(lines, "\n"))
	}
	if len(sections) == 0 {
		return prompt
	}
	return prompt + "\n\n" + strings.Join(sections, "\n\n")
}

func (a *Agent) recordEarlyTraces(ctx context.Context, req *models.TaskRequest, description string) {
	traces := []struct {
		phase models.Phase
		data  map[string]any
	}{
		{models.PhaseObserve, map[string]any{"task_type": req.Type, "description": description}},
		{models.PhaseThink, map[string]any{"agent_type": a.cfg.Type}},
		{models.PhasePlan, map[string]any{"max_iterations": a.cfg.MaxIterations}},
	}
	for _, tr := range traces {
		if err := a.deps.Memory.Hot.StoreTaskTrace(ctx, req.ID, tr.phase, tr.data); err != nil {
			a.logger.Warn("trace store failed", "task_id", req.ID, "phase", tr.phase, "error", err)
		}
	}
}

func (a *Agent) applyPhaseFeedback(ctx context.Context, taskID string, success bool) {
	if a.deps.Phase == nil {
		return
	}
	if _, err := a.deps.Phase.ApplyFeedback(ctx, taskID, success); err != nil {
		a.logger.Warn("phase feedback failed", "task_id", taskID, "error", err)
	}
}

func (a *Agent) flushMemory(ctx context.Context, taskID string) {
	if _, err := a.deps.Memory.Flush(ctx, taskID); err != nil {
		a.logger.Warn("memory flush failed", "task_id", taskID, "error", err)
	}
}

// taskDescription extracts the human task text from the request payload.
func taskDescription(req *models.TaskRequest) string {
	for _, key := range []string{"message", "description", "prompt"} {
		if v, ok := req.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return req.Type
}
