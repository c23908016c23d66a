// Package tools implements the per-agent tool registry: typed tool
// definitions, permission and elevation checks, schema validation, the
// security validator, and the parallel/sequential executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// criticalTools is the fixed set of tool names that require explicit
// confirmation regardless of permission level.
var criticalTools = map[string]bool{
	"run_command": true,
	"write_file":  true,
}

// IsCritical reports whether a tool name is in the critical set.
func IsCritical(name string) bool {
	return criticalTools[name]
}

// Handler is a tool body. args carries the schema-facing parameters plus any
// injected contextual keys the tool declared.
type Handler func(ctx context.Context, args map[string]any) (*Result, error)

// Tool is a registered capability.
type Tool struct {
	Name        string
	Description string

	// InputSchema is the JSON schema of the tool's parameters.
	InputSchema json.RawMessage

	// Permission is the required level (0 to 4).
	Permission int

	// Capability is the tool's category (SYSTEM, FILE, NETWORK, CODE, WEB,
	// MONITORING). Empty means uncategorized.
	Capability string

	// SideEffects marks tools that mutate state; the executor runs them
	// sequentially.
	SideEffects bool

	// AllowsElevation permits agents below Permission to request a grant.
	AllowsElevation bool

	// MaxElevationLevel caps how high a grant for this tool may go. Zero
	// means the tool's own permission level.
	MaxElevationLevel int

	// RequiresConfirmation forces user confirmation before execution.
	RequiresConfirmation bool

	// ContextKeys names the contextual keys the handler wants injected
	// into its args (context, _memory, _agent_type, _task_id, _agent).
	ContextKeys []string

	Handler Handler
}

// ElevationCeiling returns the highest level a grant for this tool may
// target. Without AllowsElevation the ceiling is the permission level
// itself.
func (t *Tool) ElevationCeiling() int {
	if !t.AllowsElevation {
		return t.Permission
	}
	if t.MaxElevationLevel > 0 {
		return t.MaxElevationLevel
	}
	return t.Permission
}

// Critical reports whether the tool is in the critical set.
func (t *Tool) Critical() bool {
	return IsCritical(t.Name)
}

// Result is the outcome of one tool invocation.
type Result struct {
	Success  bool           `json:"success"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Ok builds a successful result.
func Ok(output any) *Result {
	return &Result{Success: true, Output: output}
}

// Fail builds a failed result.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// OutputText coerces the result's output to a string for tool_result blocks.
func (r *Result) OutputText() string {
	if !r.Success {
		return r.Error
	}
	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
