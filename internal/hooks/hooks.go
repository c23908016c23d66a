// Package hooks provides the extension points around task and tool
// execution. Hook failures are logged and never block the pipeline; the one
// exception is a pre-tool hook explicitly signalling a security block.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/pkg/models"
)

// TaskEvent is what task-level hooks observe. PreTask hooks may mutate
// Request.Context to inject additional context into the task.
type TaskEvent struct {
	Request   *models.TaskRequest
	Response  *models.TaskResponse // set for post-task hooks
	AgentType string
}

// ToolEvent is what tool-level hooks observe.
type ToolEvent struct {
	Tool      string
	Args      map[string]any
	TaskID    string
	AgentType string
	Result    *tools.Result // set for post-tool hooks
}

// ToolVerdict is a pre-tool hook's decision. The zero value allows.
type ToolVerdict struct {
	SecurityBlocked bool
	Reason          string
}

// Hook kinds.
type (
	PreTaskFunc  func(ctx context.Context, ev *TaskEvent) error
	PostTaskFunc func(ctx context.Context, ev *TaskEvent) error
	PreToolFunc  func(ctx context.Context, ev *ToolEvent) (ToolVerdict, error)
	PostToolFunc func(ctx context.Context, ev *ToolEvent) error
)

type namedPreTask struct {
	name string
	fn   PreTaskFunc
}
type namedPostTask struct {
	name string
	fn   PostTaskFunc
}
type namedPreTool struct {
	name string
	fn   PreToolFunc
}
type namedPostTool struct {
	name string
	fn   PostToolFunc
}

// Registry holds the hook tables. Registration happens at startup; runs are
// concurrent-safe.
type Registry struct {
	mu       sync.RWMutex
	preTask  []namedPreTask
	postTask []namedPostTask
	preTool  []namedPreTool
	postTool []namedPostTool
	logger   *slog.Logger
}

// NewRegistry builds an empty hook registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// OnPreTask registers a pre-task hook.
func (r *Registry) OnPreTask(name string, fn PreTaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preTask = append(r.preTask, namedPreTask{name: name, fn: fn})
}

// OnPostTask registers a post-task hook.
func (r *Registry) OnPostTask(name string, fn PostTaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postTask = append(r.postTask, namedPostTask{name: name, fn: fn})
}

// OnPreTool registers a pre-tool hook.
func (r *Registry) OnPreTool(name string, fn PreToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.preTool = append(r.preTool, namedPreTool{name: name, fn: fn})
}

// OnPostTool registers a post-tool hook.
func (r *Registry) OnPostTool(name string, fn PostToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postTool = append(r.postTool, namedPostTool{name: name, fn: fn})
}

// RunPreTask runs all pre-task hooks. Errors are logged, never propagated.
func (r *Registry) RunPreTask(ctx context.Context, ev *TaskEvent) {
	r.mu.RLock()
	hooks := r.preTask
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := safeRun(func() error { return h.fn(ctx, ev) }); err != nil {
			r.logger.Warn("pre-task hook failed", "hook", h.name, "error", err)
		}
	}
}

// RunPostTask runs all post-task hooks. Errors are logged, never propagated.
func (r *Registry) RunPostTask(ctx context.Context, ev *TaskEvent) {
	r.mu.RLock()
	hooks := r.postTask
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := safeRun(func() error { return h.fn(ctx, ev) }); err != nil {
			r.logger.Warn("post-task hook failed", "hook", h.name, "error", err)
		}
	}
}

// RunPreTool runs all pre-tool hooks. A hook error is logged and skipped; a
// security block from any hook stops the chain and is returned.
func (r *Registry) RunPreTool(ctx context.Context, ev *ToolEvent) ToolVerdict {
	r.mu.RLock()
	hooks := r.preTool
	r.mu.RUnlock()
	for _, h := range hooks {
		var verdict ToolVerdict
		err := safeRun(func() error {
			var hookErr error
			verdict, hookErr = h.fn(ctx, ev)
			return hookErr
		})
		if err != nil {
			r.logger.Warn("pre-tool hook failed", "hook", h.name, "tool", ev.Tool, "error", err)
			continue
		}
		if verdict.SecurityBlocked {
			r.logger.Warn("pre-tool hook blocked tool call",
				"hook", h.name, "tool", ev.Tool, "reason", verdict.Reason)
			return verdict
		}
	}
	return ToolVerdict{}
}

// RunPostTool runs all post-tool hooks. Errors are logged, never propagated.
func (r *Registry) RunPostTool(ctx context.Context, ev *ToolEvent) {
	r.mu.RLock()
	hooks := r.postTool
	r.mu.RUnlock()
	for _, h := range hooks {
		if err := safeRun(func() error { return h.fn(ctx, ev) }); err != nil {
			r.logger.Warn("post-tool hook failed", "hook", h.name, "tool", ev.Tool, "error", err)
		}
	}
}

// safeRun converts a hook panic into an error so one bad hook cannot take
// down the agent loop.
func safeRun(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return fn()
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("hook panicked: %v", e.value)
}
