package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pai-platform/pai/internal/convo"
	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/pkg/models"
)

// SubagentMaxIterations is the hard iteration cap for focused subagents.
const SubagentMaxIterations = 15

// SubagentResult reports the outcome of one subagent run.
type SubagentResult struct {
	Success       bool   `json:"success"`
	Response      string `json:"response"`
	Iterations    int    `json:"iterations"`
	ToolCallsMade int    `json:"tool_calls_made"`
	Error         string `json:"error,omitempty"`
}

// Subagent is a focused, independent tool-use loop: a fresh conversation,
// a possibly filtered registry, and no pub/sub, control, or traces.
type Subagent struct {
	client        llm.Client
	registry      *tools.Registry
	tier          string
	maxIterations int
	logger        *slog.Logger
}

// NewSubagent builds a subagent over the parent's LLM client and a (usually
// filtered) tool registry. tier selects the model tier; maxIterations is
// clamped to the hard cap.
func NewSubagent(client llm.Client, registry *tools.Registry, tier string, maxIterations int, logger *slog.Logger) *Subagent {
	if tier == "" {
		tier = llm.TierBalanced
	}
	if maxIterations <= 0 || maxIterations > SubagentMaxIterations {
		maxIterations = SubagentMaxIterations
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subagent{
		client:        client,
		registry:      registry,
		tier:          tier,
		maxIterations: maxIterations,
		logger:        logger,
	}
}

// Run drives the loop for one prompt and returns when the model stops
// calling tools or the cap is reached.
func (s *Subagent) Run(ctx context.Context, systemPrompt, prompt string) *SubagentResult {
	result := &SubagentResult{}
	conv := convo.NewManager(s.client, s.logger)
	conv.AppendText(models.RoleUser, prompt)

	schemas := s.registry.Schemas(tools.ListOptions{MaxLevel: -1})
	executor := tools.NewExecutor(s.registry, 0)

	for iteration := 1; iteration <= s.maxIterations; iteration++ {
		result.Iterations = iteration

		resp, err := s.client.CreateMessage(ctx, &llm.Request{
			Model:     s.tier,
			MaxTokens: defaultMaxTokens,
			System:    systemPrompt,
			Messages:  conv.BuildAPIMessages(ctx),
			Tools:     schemas,
		})
		if err != nil {
			result.Error = fmt.Sprintf("llm call failed: %v", err)
			return result
		}

		if resp.StopReason != llm.StopToolUse {
			conv.AppendText(models.RoleAssistant, resp.Text)
			result.Response = resp.Text
			result.Success = true
			return result
		}

		calls := tools.ParseCalls(resp.ToolCalls)
		callResults := executor.Execute(ctx, calls, nil)
		result.ToolCallsMade += len(calls)
		appendSubagentTurn(conv, resp, callResults)
	}

	result.Response = "Subagent reached its iteration cap before finishing."
	result.Error = "max_iterations"
	return result
}

func appendSubagentTurn(conv *convo.Manager, resp *llm.Response, results []tools.CallResult) {
	var assistantBlocks []models.ContentBlock
	if resp.Text != "" {
		assistantBlocks = append(assistantBlocks, models.ContentBlock{Type: models.BlockText, Text: resp.Text})
	}
	for _, tc := range resp.ToolCalls {
		assistantBlocks = append(assistantBlocks, models.ContentBlock{
			Type:  models.BlockToolUse,
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Input,
		})
	}
	conv.Append(models.Message{Role: models.RoleAssistant, Content: assistantBlocks})

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
	conv.Append(models.Message{Role: models.RoleUser, Content: resultBlocks})
}
