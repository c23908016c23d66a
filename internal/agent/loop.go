package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/convo"
	"github.com/pai-platform/pai/internal/costs"
	"github.com/pai-platform/pai/internal/hooks"
	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/pkg/models"
)

// loopResult is what one agentic loop run produces.
type loopResult struct {
	Response   string
	Iterations int
	ToolCalls  int
	Cancelled  bool
	Warning    string
	Usage      models.Usage
}

// runLoop drives the tool-use loop for one task: LLM call, tool dispatch,
// history append, until the model stops calling tools or the iteration
// budget runs out. planExplore restricts the visible tools to the
// side-effect-free subset.
func (a *Agent) runLoop(ctx context.Context, req *models.TaskRequest, systemPrompt string, maxIterations int, planExplore bool) (*loopResult, error) {
	result := &loopResult{}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		result.Iterations = iteration

		if a.control.Checkpoint(ctx) {
			result.Cancelled = true
			return result, nil
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		for _, pending := range a.control.DrainPending() {
			a.convo.AppendText(models.RoleUser,
				"[Additional context from user]: "+pending.Content)
		}

		schemas := a.deps.Registry.Schemas(tools.ListOptions{
			MaxLevel:          -1,
			IncludeElevatable: true,
			SideEffectFree:    planExplore,
		})

		a.publishProgress(ctx, req.ID, models.PhaseExecute, iteration, "calling model")
		a.publishAction(ctx, "api_call", fmt.Sprintf("Calling model (iteration %d)", iteration))
		llmStarted := time.Now()
		resp, err := a.deps.LLM.CreateMessage(ctx, &llm.Request{
			Model:     llm.TierAuto,
			MaxTokens: defaultMaxTokens,
			System:    systemPrompt,
			Messages:  a.convo.BuildAPIMessages(ctx),
			Tools:     schemas,
		})
		if err != nil {
			return result, fmt.Errorf("agent: llm call failed on iteration %d: %w", iteration, err)
		}

		cost := a.deps.LLM.Cost(resp)
		result.Usage.Add(models.Usage{
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CachedTokens: resp.CachedTokens,
			TotalCost:    cost,
			APICalls:     1,
		})
		a.recordLLMUsage(resp, cost, time.Since(llmStarted))
		a.publishAction(ctx, "api_response",
			fmt.Sprintf("Model responded: %d tokens, $%.4f", resp.InputTokens+resp.OutputTokens, cost))

		switch resp.StopReason {
		case llm.StopToolUse:
			made := a.runToolTurn(ctx, req, resp)
			result.ToolCalls += made

		case llm.StopEndTurn:
			a.convo.AppendText(models.RoleAssistant, resp.Text)
			result.Response = resp.Text
			return result, nil

		default:
			a.logger.Warn("unexpected stop reason, ending loop",
				"stop_reason", resp.StopReason, "task_id", req.ID)
			a.convo.AppendText(models.RoleAssistant, resp.Text)
			result.Response = resp.Text
			return result, nil
		}
	}

	result.Response = "Task incomplete: reached the iteration limit before the model finished."
	result.Warning = "max_iterations"
	return result, nil
}

// runToolTurn executes one tool_use turn: parallel batch first, then the
// sequential batch in input order, then the normalized history append.
// Returns the number of tool calls made.
func (a *Agent) runToolTurn(ctx context.Context, req *models.TaskRequest, resp *llm.Response) int {
	calls := tools.ParseCalls(resp.ToolCalls)
	executor := tools.NewExecutor(a.deps.Registry, 0)
	parallel, sequential := executor.Partition(calls)
	results := make([]tools.CallResult, len(calls))

	if len(parallel) > 0 {
		sem := make(chan struct{}, 8)
		var wg sync.WaitGroup
		for _, cr := range parallel {
			wg.Add(1)
			go func(cr tools.CallResult) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				cr.Result = a.invokeTool(ctx, req, cr.Call)
				results[cr.Index] = cr
			}(cr)
		}
		wg.Wait()
	}
	for _, cr := range sequential {
		if a.control.State() == models.TaskCancelled {
			cr.Result = tools.Fail("task cancelled before execution")
			results[cr.Index] = cr
			continue
		}
		cr.Result = a.invokeTool(ctx, req, cr.Call)
		results[cr.Index] = cr
	}

	a.appendToolTurn(resp, results)
	a.recordExecuteTrace(ctx, req.ID, results)
	return len(calls)
}

// invokeTool runs the per-call pipeline: mirror events, security validator,
// pre-tool hook, registry execution, post-tool hook, result events.
func (a *Agent) invokeTool(ctx context.Context, req *models.TaskRequest, call tools.Call) *tools.Result {
	started := time.Now()
	a.publishAction(ctx, "tool_call", fmt.Sprintf("Using tool %s", call.Name))
	a.publishBus(ctx, bus.TopicToolCalls, models.ToolCallEvent{
		Agent:      a.cfg.Name,
		TaskID:     req.ID,
		ToolCallID: call.ID,
		Tool:       call.Name,
		Input:      call.Args,
		Timestamp:  started.UTC(),
	})

	var result *tools.Result
	if verdict := a.validator.Validate(call.Name, call.Args); !verdict.Allowed {
		a.logger.Warn("tool call blocked by security",
			"tool", call.Name, "task_id", req.ID, "reason", verdict.Reason)
		result = tools.Fail("Blocked by security: %s", verdict.Reason)
	} else {
		ev := &hooks.ToolEvent{
			Tool:      call.Name,
			Args:      call.Args,
			TaskID:    req.ID,
			AgentType: a.cfg.Type,
		}
		if hookVerdict := a.deps.Hooks.RunPreTool(ctx, ev); hookVerdict.SecurityBlocked {
			a.logger.Warn("tool call blocked by pre-tool hook",
				"tool", call.Name, "task_id", req.ID, "reason", hookVerdict.Reason)
			result = tools.Fail("Blocked by security: %s", hookVerdict.Reason)
		} else {
			execCtx := map[string]any{
				"task_id":     req.ID,
				"_memory":     a.deps.Memory,
				"_agent_type": a.cfg.Type,
				"_task_id":    req.ID,
				"_agent":      a.cfg.Name,
			}
			result = a.deps.Registry.Execute(ctx, call.Name, call.Args, execCtx)
			ev.Result = result
			a.deps.Hooks.RunPostTool(ctx, ev)
		}
	}

	status := "success"
	action := "tool_result"
	if !result.Success {
		status = "error"
		action = "tool_error"
	}
	a.publishAction(ctx, action, fmt.Sprintf("Tool %s: %s", call.Name, status))
	a.publishBus(ctx, bus.TopicToolResults, models.ToolResultEvent{
		Agent:      a.cfg.Name,
		TaskID:     req.ID,
		ToolCallID: call.ID,
		Tool:       call.Name,
		Success:    result.Success,
		Output:     result.OutputText(),
		Error:      result.Error,
		DurationMS: time.Since(started).Milliseconds(),
		Timestamp:  time.Now().UTC(),
	})
	if a.deps.Metrics != nil {
		a.deps.Metrics.ToolCalls.WithLabelValues(call.Name, status).Inc()
	}
	return result
}

// appendToolTurn appends the normalized assistant message (text plus
// tool_use blocks) and the user message carrying the ordered tool_result
// blocks.
func (a *Agent) appendToolTurn(resp *llm.Response, results []tools.CallResult) {
	var assistantBlocks []models.ContentBlock
	if resp.Text != "" {
		assistantBlocks = append(assistantBlocks, models.ContentBlock{
			Type: models.BlockText,
			Text: resp.Text,
		})
	}
	for _, tc := range resp.ToolCalls {
		assistantBlocks = append(assistantBlocks, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Input,
		})
	}
	a.convo.Append(models.Message{Role: models.RoleAssistant, Content: assistantBlocks})

	resultBlocks := make([]models.ContentBlock, 0, len(results))
	for _, cr := range results {
		content := convo.StringifyOutput(convo.TruncateToolOutput(cr.Result.Output))
		if !cr.Result.Success {
			content = cr.Result.Error
		}
		resultBlocks = append(resultBlocks, models.ContentBlock{
			Type:      models.BlockToolResult,
			ToolUseID: cr.Call.ID,
			Content:   convo.TruncateToolResultText(content),
			IsError:   !cr.Result.Success,
		})
	}
	a.convo.Append(models.Message{Role: models.RoleUser, Content: resultBlocks})
}

// recordExecuteTrace stores the EXECUTE hot trace for one tool turn.
func (a *Agent) recordExecuteTrace(ctx context.Context, taskID string, results []tools.CallResult) {
	successes := 0
	names := make([]string, 0, len(results))
	for _, cr := range results {
		names = append(names, cr.Call.Name)
		if cr.Result != nil && cr.Result.Success {
			successes++
		}
	}
	rate := 0.0
	if len(results) > 0 {
		rate = float64(successes) / float64(len(results))
	}
	err := a.deps.Memory.Hot.StoreTaskTrace(ctx, taskID, models.PhaseExecute, map[string]any{
		"tools":        names,
		"tool_count":   len(results),
		"successes":    successes,
		"success_rate": rate,
	})
	if err != nil {
		a.logger.Warn("execute trace failed", "task_id", taskID, "error", err)
	}
}

func (a *Agent) recordLLMUsage(resp *llm.Response, cost float64, elapsed time.Duration) {
	if a.deps.Metrics != nil {
		m := a.deps.Metrics
		m.LLMRequestDuration.WithLabelValues(resp.Provider, resp.Model).Observe(elapsed.Seconds())
		m.LLMTokens.WithLabelValues(resp.Provider, resp.Model, "input").Add(float64(resp.InputTokens))
		m.LLMTokens.WithLabelValues(resp.Provider, resp.Model, "output").Add(float64(resp.OutputTokens))
		m.LLMTokens.WithLabelValues(resp.Provider, resp.Model, "cached").Add(float64(resp.CachedTokens))
	}
	if a.deps.Costs != nil {
		a.deps.Costs.Track(costs.Record{
			Agent:        a.cfg.Name,
			Model:        resp.Model,
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
			CachedTokens: resp.CachedTokens,
			Cost:         cost,
		})
	}
}

func (a *Agent) publishBus(ctx context.Context, topic string, v any) {
	if err := a.deps.Bus.Publish(ctx, topic, v); err != nil {
		a.logger.Warn("bus publish failed", "topic", topic, "error", err)
	}
}
