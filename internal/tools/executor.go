package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pai-platform/pai/pkg/models"
)

// Call is one tool invocation requested by an LLM turn.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// CallResult pairs a call with its outcome, tagged with the call's position
// in the input batch.
type CallResult struct {
	Index  int
	Call   Call
	Result *Result
}

// ParseCalls decodes the raw tool calls of an LLM response into executor
// calls. Undecodable inputs become empty argument maps so the failure
// surfaces from schema validation instead of being silently dropped.
func ParseCalls(toolCalls []models.ToolCall) []Call {
	calls := make([]Call, 0, len(toolCalls))
	for _, tc := range toolCalls {
		args := make(map[string]any)
		if len(tc.Input) > 0 {
			_ = json.Unmarshal(tc.Input, &args)
		}
		calls = append(calls, Call{ID: tc.ID, Name: tc.Name, Args: args})
	}
	return calls
}

// Executor dispatches a batch of tool calls: side-effect-free tools run
// concurrently, side-effecting tools run strictly in input order after the
// parallel batch completes. It is pure dispatch; the registry re-checks
// permissions on every call.
type Executor struct {
	registry *Registry
	// maxParallel bounds concurrent side-effect-free executions.
	maxParallel int
}

// NewExecutor builds an executor over a registry. maxParallel <= 0 means 8.
func NewExecutor(registry *Registry, maxParallel int) *Executor {
	if maxParallel <= 0 {
		maxParallel = 8
	}
	return &Executor{registry: registry, maxParallel: maxParallel}
}

// Partition splits calls into the parallel (no side effects) and sequential
// (side effects) groups, both preserving input order. Unknown tools are
// treated as side-effecting so their failure is reported in order.
func (e *Executor) Partition(calls []Call) (parallel, sequential []CallResult) {
	for i, call := range calls {
		cr := CallResult{Index: i, Call: call}
		tool, ok := e.registry.Get(call.Name)
		if ok && !tool.SideEffects {
			parallel = append(parallel, cr)
		} else {
			sequential = append(sequential, cr)
		}
	}
	return parallel, sequential
}

// Execute runs the batch and returns results in input order. All parallel
// results are observed before the first sequential tool starts. A failing
// call never aborts its siblings.
func (e *Executor) Execute(ctx context.Context, calls []Call, execCtx map[string]any) []CallResult {
	parallel, sequential := e.Partition(calls)
	results := make([]CallResult, len(calls))

	if len(parallel) > 0 {
		sem := make(chan struct{}, e.maxParallel)
		var wg sync.WaitGroup
		for _, cr := range parallel {
			wg.Add(1)
			go func(cr CallResult) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				cr.Result = e.registry.Execute(ctx, cr.Call.Name, cr.Call.Args, execCtx)
				results[cr.Index] = cr
			}(cr)
		}
		wg.Wait()
	}

	for _, cr := range sequential {
		cr.Result = e.registry.Execute(ctx, cr.Call.Name, cr.Call.Args, execCtx)
		results[cr.Index] = cr
	}
	return results
}
