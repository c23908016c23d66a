// Package memory implements the three-tier learning store: a TTL-bounded
// hot tier in the key/value store, a semantic warm tier in the vector store,
// and an append-only cold archive on disk, plus the ACL evaluation shared by
// all reads.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/pkg/models"
)

// DefaultHotTTL bounds every hot-tier key.
const DefaultHotTTL = 24 * time.Hour

const hotPrefix = "pai:hot:"

// HotTier is the fast, ephemeral store for task traces and short-lived
// state.
type HotTier struct {
	store   kv.Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewHotTier builds the hot tier. ttl <= 0 means DefaultHotTTL.
func NewHotTier(store kv.Store, ttl time.Duration, logger *slog.Logger, metrics *observability.Metrics) *HotTier {
	if ttl <= 0 {
		ttl = DefaultHotTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HotTier{store: store, ttl: ttl, logger: logger, metrics: metrics}
}

func hotKey(key string) string {
	return hotPrefix + key
}

// StoreHot writes a JSON-encoded value under the hot namespace with the
// tier's TTL.
func (h *HotTier) StoreHot(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("memory: marshal hot value %s: %w", key, err)
	}
	if err := h.store.Set(ctx, hotKey(key), string(data), h.ttl); err != nil {
		return fmt.Errorf("memory: store hot %s: %w", key, err)
	}
	h.countOp("store")
	return nil
}

// GetHot reads a hot value into out. Missing keys return kv.ErrNotFound.
func (h *HotTier) GetHot(ctx context.Context, key string, out any) error {
	raw, err := h.store.Get(ctx, hotKey(key))
	if err != nil {
		return err
	}
	h.countOp("get")
	return json.Unmarshal([]byte(raw), out)
}

// DeleteHot removes a hot key.
func (h *HotTier) DeleteHot(ctx context.Context, key string) error {
	return h.store.Delete(ctx, hotKey(key))
}

// StoreTaskTrace records a phase trace for a task: the trace itself under
// task:<id>:trace:<phase> and an append to the task's trace list, whose TTL
// is reset on every write.
func (h *HotTier) StoreTaskTrace(ctx context.Context, taskID string, phase models.Phase, data map[string]any) error {
	trace := models.TaskTrace{
		TaskID:    taskID,
		Phase:     phase,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	encoded, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("memory: marshal trace %s/%s: %w", taskID, phase, err)
	}

	traceKey := hotKey(fmt.Sprintf("task:%s:trace:%s", taskID, phase))
	if err := h.store.Set(ctx, traceKey, string(encoded), h.ttl); err != nil {
		return fmt.Errorf("memory: store trace %s/%s: %w", taskID, phase, err)
	}

	listKey := hotKey(fmt.Sprintf("task:%s:traces", taskID))
	if err := h.store.RPush(ctx, listKey, string(encoded)); err != nil {
		return fmt.Errorf("memory: append trace list %s: %w", taskID, err)
	}
	if err := h.store.Expire(ctx, listKey, h.ttl); err != nil {
		h.logger.Warn("failed to reset trace list ttl", "task_id", taskID, "error", err)
	}
	h.countOp("trace")
	return nil
}

// GetTaskTrace reads one phase trace for a task. Missing traces return
// (nil, kv.ErrNotFound).
func (h *HotTier) GetTaskTrace(ctx context.Context, taskID string, phase models.Phase) (*models.TaskTrace, error) {
	raw, err := h.store.Get(ctx, hotKey(fmt.Sprintf("task:%s:trace:%s", taskID, phase)))
	if err != nil {
		return nil, err
	}
	var trace models.TaskTrace
	if err := json.Unmarshal([]byte(raw), &trace); err != nil {
		return nil, fmt.Errorf("memory: decode trace %s/%s: %w", taskID, phase, err)
	}
	return &trace, nil
}

// GetTaskTraces reads all traces recorded for a task, in append order.
func (h *HotTier) GetTaskTraces(ctx context.Context, taskID string) ([]models.TaskTrace, error) {
	raw, err := h.store.LRange(ctx, hotKey(fmt.Sprintf("task:%s:traces", taskID)), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("memory: read trace list %s: %w", taskID, err)
	}
	traces := make([]models.TaskTrace, 0, len(raw))
	for _, item := range raw {
		var trace models.TaskTrace
		if err := json.Unmarshal([]byte(item), &trace); err != nil {
			h.logger.Warn("skipping undecodable trace", "task_id", taskID, "error", err)
			continue
		}
		traces = append(traces, trace)
	}
	return traces, nil
}

func (h *HotTier) countOp(op string) {
	if h.metrics != nil {
		h.metrics.MemoryOps.WithLabelValues("hot", op).Inc()
	}
}
