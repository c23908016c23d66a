// Package dispatch routes task requests onto the bus with admission control
// and duplicate suppression. The bus is at-least-once; the dispatcher makes
// task ids exactly-once within the dedup window so agents can stay simple.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/pkg/models"
)

const dedupKeyPrefix = "pai:task:seen:"

// ErrDuplicateTask reports a task id already dispatched inside the window.
var ErrDuplicateTask = errors.New("dispatch: duplicate task id")

// ErrTooManyTasks reports that admission control refused the task.
var ErrTooManyTasks = errors.New("dispatch: too many active tasks")

// Dispatcher publishes tasks to agent queues and tracks them to completion.
type Dispatcher struct {
	bus     bus.Bus
	store   kv.Store
	logger  *slog.Logger
	metrics *observability.Metrics

	maxActive   int
	dedupWindow time.Duration

	mu     sync.Mutex
	active int
}

// New builds a dispatcher. maxActive <= 0 means 32; dedupWindow <= 0 means
// one hour.
func New(b bus.Bus, store kv.Store, maxActive int, dedupWindow time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Dispatcher {
	if maxActive <= 0 {
		maxActive = 32
	}
	if dedupWindow <= 0 {
		dedupWindow = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		bus:         b,
		store:       store,
		logger:      logger,
		metrics:     metrics,
		maxActive:   maxActive,
		dedupWindow: dedupWindow,
	}
}

// Active returns the number of tasks dispatched and not yet completed.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Dispatch validates, deduplicates, and publishes a task to its agent
// queue, returning a channel that delivers the final TaskResponse. The
// channel is closed without a value if the context ends first.
func (d *Dispatcher) Dispatch(ctx context.Context, req *models.TaskRequest) (<-chan *models.TaskResponse, error) {
	if req.AgentType == "" {
		return nil, fmt.Errorf("dispatch: task requires an agent type")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	fresh, err := d.store.SetNX(ctx, dedupKeyPrefix+req.ID, "1", d.dedupWindow)
	if err != nil {
		return nil, fmt.Errorf("dispatch: dedup check: %w", err)
	}
	if !fresh {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, req.ID)
	}

	d.mu.Lock()
	if d.active >= d.maxActive {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %d active", ErrTooManyTasks, d.maxActive)
	}
	d.active++
	d.mu.Unlock()

	respCh, cancelSub, err := d.bus.Subscribe(ctx, bus.ResponseTopic(req.ID))
	if err != nil {
		d.release()
		return nil, fmt.Errorf("dispatch: subscribe response: %w", err)
	}

	if err := d.bus.Publish(ctx, bus.TaskTopic(req.AgentType), req); err != nil {
		cancelSub()
		d.release()
		return nil, fmt.Errorf("dispatch: publish task: %w", err)
	}
	d.logger.Info("task dispatched", "task_id", req.ID, "agent_type", req.AgentType)

	out := make(chan *models.TaskResponse, 1)
	go func() {
		defer close(out)
		defer cancelSub()
		defer d.release()
		select {
		case payload, ok := <-respCh:
			if !ok {
				return
			}
			var resp models.TaskResponse
			if err := json.Unmarshal(payload, &resp); err != nil {
				d.logger.Warn("undecodable task response", "task_id", req.ID, "error", err)
				return
			}
			out <- &resp
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	if d.active > 0 {
		d.active--
	}
	d.mu.Unlock()
}
