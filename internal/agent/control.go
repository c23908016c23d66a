package agent

import (
	"context"
	"sync"

	"github.com/pai-platform/pai/pkg/models"
)

// controlState tracks the pause/cancel state of the in-flight task and the
// queue of user interjections. The loop consults it at iteration boundaries;
// nothing is interrupted mid-flight.
type controlState struct {
	mu      sync.Mutex
	state   models.TaskState
	resume  chan struct{}
	pending []models.PendingMessage
}

func newControlState() *controlState {
	return &controlState{state: models.TaskRunning}
}

// Reset prepares the state for a new task.
func (c *controlState) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = models.TaskRunning
	c.resume = nil
	c.pending = nil
}

// Pause suspends the loop at its next checkpoint.
func (c *controlState) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.TaskRunning {
		return
	}
	c.state = models.TaskPaused
	c.resume = make(chan struct{})
}

// Resume releases a paused loop.
func (c *controlState) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != models.TaskPaused {
		return
	}
	c.state = models.TaskRunning
	close(c.resume)
	c.resume = nil
}

// Cancel marks the task cancelled and unblocks any pause wait.
func (c *controlState) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == models.TaskPaused && c.resume != nil {
		close(c.resume)
		c.resume = nil
	}
	c.state = models.TaskCancelled
}

// State returns the current control state.
func (c *controlState) State() models.TaskState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Checkpoint blocks while paused and reports whether the task is cancelled.
// It returns promptly on context end.
func (c *controlState) Checkpoint(ctx context.Context) (cancelled bool) {
	for {
		c.mu.Lock()
		state := c.state
		resume := c.resume
		c.mu.Unlock()

		switch state {
		case models.TaskCancelled:
			return true
		case models.TaskPaused:
			select {
			case <-resume:
			case <-ctx.Done():
				return false
			}
		default:
			return false
		}
	}
}

// AddPending enqueues a user interjection for the next iteration.
func (c *controlState) AddPending(msg models.PendingMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, msg)
}

// DrainPending returns and clears the queued interjections in arrival order.
func (c *controlState) DrainPending() []models.PendingMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}
