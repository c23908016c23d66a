package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/pkg/models"
)

// Start subscribes the agent to its task queue and the control topics,
// launches the heartbeat, and announces IDLE. It returns once the
// subscriptions are live; processing happens on background goroutines until
// Stop.
func (a *Agent) Start(ctx context.Context) error {
	a.startedAt = time.Now()

	taskCh, cancelTasks, err := a.deps.Bus.Subscribe(ctx, bus.TaskTopic(a.cfg.Type))
	if err != nil {
		return fmt.Errorf("agent: subscribe tasks: %w", err)
	}
	controlCh, cancelControl, err := a.deps.Bus.Subscribe(ctx, bus.TopicTaskControl)
	if err != nil {
		cancelTasks()
		return fmt.Errorf("agent: subscribe task control: %w", err)
	}
	pendingCh, cancelPending, err := a.deps.Bus.Subscribe(ctx, bus.TopicPendingMessages)
	if err != nil {
		cancelTasks()
		cancelControl()
		return fmt.Errorf("agent: subscribe pending messages: %w", err)
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		defer cancelTasks()
		a.taskLoop(ctx, taskCh)
	}()
	go func() {
		defer a.wg.Done()
		defer cancelControl()
		defer cancelPending()
		a.controlLoop(ctx, controlCh, pendingCh)
	}()
	go func() {
		defer a.wg.Done()
		a.heartbeatLoop(ctx)
	}()

	a.publishStatus(ctx, models.StatusIdle)
	a.logger.Info("agent started", "type", a.cfg.Type)
	return nil
}

// Stop refuses new tasks, waits up to the graceful timeout for the current
// task, flushes memory, and announces OFFLINE.
func (a *Agent) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopping) })

	deadline := time.Now().Add(a.cfg.GracefulTimeout)
	for a.CurrentTask() != "" && time.Now().Before(deadline) && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
	if task := a.CurrentTask(); task != "" {
		a.logger.Warn("stopping with task still active", "task_id", task)
	}

	a.flushMemory(ctx, "")
	a.publishStatus(ctx, models.StatusOffline)
	a.logger.Info("agent stopped", "tasks_completed", a.completedCount())
	return nil
}

// Wait blocks until the background loops exit. Call after cancelling the
// context passed to Start.
func (a *Agent) Wait() {
	a.wg.Wait()
}

func (a *Agent) completedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tasksCompleted
}

// taskLoop consumes the agent's task queue serially. Duplicate deliveries of
// an already-seen task id are the dispatcher's problem; the loop itself only
// refuses work while stopping.
func (a *Agent) taskLoop(ctx context.Context, taskCh <-chan []byte) {
	for payload := range taskCh {
		if a.isStopping() {
			a.logger.Info("refusing task, agent stopping")
			continue
		}
		var req models.TaskRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			a.logger.Warn("undecodable task request", "error", err)
			continue
		}
		if req.ID == "" {
			a.logger.Warn("task request without id dropped")
			continue
		}
		a.ProcessTask(ctx, &req)
	}
}

// controlLoop applies task-control and pending-message traffic that matches
// the current task's user/conversation scope.
func (a *Agent) controlLoop(ctx context.Context, controlCh, pendingCh <-chan []byte) {
	for {
		select {
		case payload, ok := <-controlCh:
			if !ok {
				return
			}
			var ctl models.TaskControl
			if err := json.Unmarshal(payload, &ctl); err != nil {
				a.logger.Warn("undecodable task control", "error", err)
				continue
			}
			if !a.inScope(ctl.UserID, ctl.ConversationID) {
				continue
			}
			a.applyControl(ctl)

		case payload, ok := <-pendingCh:
			if !ok {
				return
			}
			var msg models.PendingMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				a.logger.Warn("undecodable pending message", "error", err)
				continue
			}
			if !a.inScope(msg.UserID, msg.ConversationID) {
				continue
			}
			a.control.AddPending(msg)

		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) inScope(userID, conversationID string) bool {
	currentUser, currentConvo := a.scope()
	if currentUser == "" || currentUser != userID {
		return false
	}
	return conversationID == "" || currentConvo == conversationID
}

func (a *Agent) applyControl(ctl models.TaskControl) {
	a.logger.Info("task control", "action", ctl.Action, "task_id", a.CurrentTask())
	switch ctl.Action {
	case models.ControlPause:
		a.control.Pause()
	case models.ControlResume:
		a.control.Resume()
	case models.ControlCancel:
		a.control.Cancel()
	default:
		a.logger.Warn("unknown control action", "action", ctl.Action)
	}
}

// heartbeatLoop publishes liveness on the bus and mirrors it into the
// key-value store with a short TTL.
func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.heartbeat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) heartbeat(ctx context.Context) {
	now := time.Now().UTC()
	hb := models.AgentHeartbeat{
		Agent:          a.cfg.Name,
		Timestamp:      now,
		Status:         a.Status(),
		CurrentTask:    a.CurrentTask(),
		UptimeSeconds:  time.Since(a.startedAt).Seconds(),
		TasksCompleted: a.completedCount(),
	}
	a.publishBus(ctx, bus.TopicHeartbeats, hb)
	if a.deps.Metrics != nil {
		a.deps.Metrics.HeartbeatTimestamp.WithLabelValues(a.cfg.Name).Set(float64(now.Unix()))
	}

	data, err := json.Marshal(hb)
	if err != nil {
		return
	}
	key := "agent:heartbeat:" + a.cfg.Name
	if err := a.deps.Store.Set(ctx, key, string(data), heartbeatKeyTTL); err != nil {
		a.logger.Warn("heartbeat key write failed", "error", err)
	}
}
