package builtin

import (
	"context"
	"encoding/json"

	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/pkg/models"
)

// LearningSearcher is the slice of the warm memory tier the search_memory
// tool needs.
type LearningSearcher interface {
	SearchLearnings(ctx context.Context, query string, phase, category string, limit int, agentType string, permissionLevel int, projectID, domainID string) ([]*models.Learning, error)
}

// SearchMemory returns the search_memory tool: semantic search over stored
// learnings, scoped by the calling agent's identity and level. permCtx may
// be nil, in which case searches run at the standard level.
func SearchMemory(searcher LearningSearcher, permCtx *permission.Context) *tools.Tool {
	return &tools.Tool{
		Name:        "search_memory",
		Description: "Search stored learnings semantically. Optionally filter by phase or category.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "What to search for"},
				"phase": {"type": "string", "enum": ["OBSERVE", "THINK", "PLAN", "BUILD", "EXECUTE", "VERIFY", "LEARN"]},
				"category": {"type": "string", "description": "Optional category filter"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 50, "description": "Maximum results, default 5"}
			},
			"required": ["query"]
		}`),
		Permission:  permission.LevelStandard,
		Capability:  permission.CapabilityMonitoring,
		ContextKeys: []string{"_agent_type", "_task_id"},
		Handler: func(ctx context.Context, args map[string]any) (*tools.Result, error) {
			query, _ := args["query"].(string)
			phase, _ := args["phase"].(string)
			category, _ := args["category"].(string)
			agentType, _ := args["_agent_type"].(string)

			limit := 5
			if n, ok := args["limit"].(float64); ok && n > 0 {
				limit = int(n)
			}

			level := permission.LevelStandard
			if permCtx != nil {
				level = permCtx.CurrentLevel()
				if agentType == "" {
					agentType = permCtx.AgentType()
				}
			}

			learnings, err := searcher.SearchLearnings(ctx, query, phase, category, limit, agentType, level, "", "")
			if err != nil {
				return nil, err
			}

			out := make([]map[string]any, 0, len(learnings))
			for _, l := range learnings {
				out = append(out, map[string]any{
					"id":         l.ID,
					"content":    l.Content,
					"phase":      l.Phase,
					"category":   l.Category,
					"confidence": l.Confidence,
				})
			}
			return tools.Ok(map[string]any{"count": len(out), "learnings": out}), nil
		},
	}
}
