package agent

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/tools"
)

// Subagent tool modes. Explore gets the read-only tool subset, plan adds
// search_memory on top, full inherits the parent registry.
const (
	SubagentModeFull    = "full"
	SubagentModeExplore = "explore"
	SubagentModePlan    = "plan"
)

// SpawnSubagentTool returns the spawn_subagent tool: delegate a focused
// prompt to a short-lived subagent running over a filtered view of the
// parent's registry.
func SpawnSubagentTool(client llm.Client, parent *tools.Registry, logger *slog.Logger) *tools.Tool {
	return &tools.Tool{
		Name:        "spawn_subagent",
		Description: "Delegate a focused subtask to a short-lived subagent. Use explore mode for read-only investigation, plan mode to also consult memory.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "The subtask to perform"},
				"system_prompt": {"type": "string", "description": "Optional system prompt for the subagent"},
				"mode": {"type": "string", "enum": ["full", "explore", "plan"], "description": "Tool access mode, default full"},
				"tier": {"type": "string", "enum": ["fast", "balanced", "powerful"], "description": "Model tier, default balanced"},
				"max_iterations": {"type": "integer", "minimum": 1, "maximum": 15}
			},
			"required": ["prompt"]
		}`),
		Permission:  permission.LevelElevated,
		Capability:  permission.CapabilitySystem,
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			prompt, _ := args["prompt"].(string)
			systemPrompt, _ := args["system_prompt"].(string)
			mode, _ := args["mode"].(string)
			tier, _ := args["tier"].(string)
			maxIterations := 0
			if n, ok := args["max_iterations"].(float64); ok {
				maxIterations = int(n)
			}

			registry, err := subagentRegistry(parent, mode, logger)
			if err != nil {
				return nil, err
			}
			sub := NewSubagent(client, registry, tier, maxIterations, logger)
			result := sub.Run(ctx, systemPrompt, prompt)
			if !result.Success {
				return tools.Fail("subagent failed: %s", result.Error), nil
			}
			return tools.Ok(map[string]any{
				"response":   result.Response,
				"iterations": result.Iterations,
				"tool_calls": result.ToolCallsMade,
			}), nil
		},
	}
}

// subagentRegistry builds the registry view for a mode. Explore keeps only
// side-effect-free tools minus search_memory; plan keeps the explore set plus
// search_memory; anything else inherits the parent.
func subagentRegistry(parent *tools.Registry, mode string, logger *slog.Logger) (*tools.Registry, error) {
	if mode == "" || mode == SubagentModeFull {
		return parent, nil
	}

	filtered := tools.NewRegistry(parent.Context(), nil, tools.NewValidator(), logger)
	for _, tool := range parent.List(tools.ListOptions{MaxLevel: -1, SideEffectFree: true}) {
		if tool.Name == "search_memory" && mode != SubagentModePlan {
			continue
		}
		if err := filtered.Register(tool); err != nil {
			return nil, err
		}
	}
	return filtered, nil
}
