package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/permission"
)

// PermissionInfo explains a permission decision.
type PermissionInfo struct {
	Allowed bool
	Reason  string
	GrantID string
	Pending bool
}

// ListOptions constrains List and Schemas.
type ListOptions struct {
	// MaxLevel hides tools above this level. Negative means the context's
	// current level (or no limit without a context).
	MaxLevel int

	// Capability keeps only tools of one category when non-empty.
	Capability string

	// IncludeElevatable also returns tools above MaxLevel that the
	// context could reach through elevation.
	IncludeElevatable bool

	// SideEffectFree keeps only tools without side effects. Used for plan
	// exploration mode.
	SideEffectFree bool
}

// Registry is the per-agent tool catalog and the sole authority on
// permission checks. It is constructed with the owning agent's permission
// context.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	schemas map[string]*jsonschema.Schema

	permCtx   *permission.Context
	elevation *permission.Manager
	validator *Validator
	logger    *slog.Logger
}

// NewRegistry builds an empty registry bound to a permission context. Both
// permCtx and elevation may be nil; without a context every permission check
// allows.
func NewRegistry(permCtx *permission.Context, elevation *permission.Manager, validator *Validator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:     make(map[string]*Tool),
		schemas:   make(map[string]*jsonschema.Schema),
		permCtx:   permCtx,
		elevation: elevation,
		validator: validator,
		logger:    logger,
	}
}

// Context returns the attached permission context, or nil.
func (r *Registry) Context() *permission.Context {
	return r.permCtx
}

// Register adds a tool. Re-registering a name overwrites the previous entry
// with a warning.
func (r *Registry) Register(tool *Tool) error {
	if tool.Name == "" {
		return fmt.Errorf("tools: register: tool has no name")
	}
	var schema *jsonschema.Schema
	if len(tool.InputSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		url := tool.Name + ".schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(tool.InputSchema)); err != nil {
			return fmt.Errorf("tools: register %s: %w", tool.Name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tools: register %s: compile schema: %w", tool.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		r.logger.Warn("overwriting registered tool", "tool", tool.Name)
	}
	r.tools[tool.Name] = tool
	if schema != nil {
		r.schemas[tool.Name] = schema
	} else {
		delete(r.schemas, tool.Name)
	}
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns tools visible under the given constraints.
func (r *Registry) List(opts ListOptions) []*Tool {
	maxLevel := opts.MaxLevel
	if maxLevel < 0 {
		if r.permCtx != nil {
			maxLevel = r.permCtx.CurrentLevel()
		} else {
			maxLevel = permission.LevelAdmin
		}
	}
	ceiling := maxLevel
	if opts.IncludeElevatable && r.permCtx != nil && r.permCtx.Ceiling() > ceiling {
		ceiling = r.permCtx.Ceiling()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		if opts.Capability != "" && tool.Capability != opts.Capability {
			continue
		}
		if opts.SideEffectFree && tool.SideEffects {
			continue
		}
		if tool.Permission <= maxLevel {
			out = append(out, tool)
			continue
		}
		if opts.IncludeElevatable && tool.AllowsElevation && tool.Permission <= ceiling {
			out = append(out, tool)
		}
	}
	return out
}

// Schemas projects visible tools into LLM-consumable definitions.
func (r *Registry) Schemas(opts ListOptions) []llm.ToolDef {
	visible := r.List(opts)
	defs := make([]llm.ToolDef, 0, len(visible))
	for _, tool := range visible {
		schema := tool.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		defs = append(defs, llm.ToolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return defs
}

// CheckPermission evaluates whether the attached context may invoke tool for
// the given task, requesting elevation when allowed and needed.
func (r *Registry) CheckPermission(tool *Tool, taskID string) PermissionInfo {
	if r.permCtx == nil {
		return PermissionInfo{Allowed: true}
	}

	if !r.permCtx.AllowsCapability(tool.Capability) {
		return PermissionInfo{
			Reason: fmt.Sprintf("capability %s not allowed for agent %s", tool.Capability, r.permCtx.AgentType()),
		}
	}

	current := r.permCtx.CurrentLevel()
	if current >= tool.Permission {
		return PermissionInfo{Allowed: true}
	}

	if !tool.AllowsElevation {
		return PermissionInfo{
			Reason: fmt.Sprintf("requires level %d, current level %d, elevation not allowed", tool.Permission, current),
		}
	}
	if r.elevation == nil {
		return PermissionInfo{
			Reason: fmt.Sprintf("requires level %d, current level %d, no elevation manager", tool.Permission, current),
		}
	}

	decision := r.elevation.Evaluate(permission.Request{
		Context:       r.permCtx,
		ToolName:      tool.Name,
		TaskID:        taskID,
		TargetLevel:   tool.Permission,
		MaxToolLevel:  tool.ElevationCeiling(),
		Justification: fmt.Sprintf("tool %s requires level %d", tool.Name, tool.Permission),
	})
	if decision.Approved {
		return PermissionInfo{Allowed: true, GrantID: decision.Grant.ID}
	}
	return PermissionInfo{Reason: decision.Reason, Pending: decision.Pending}
}

// Execute resolves a tool, checks permission, validates arguments, injects
// the declared contextual keys, and invokes the handler. All failure modes
// surface as a failed Result rather than an error; the error return is
// reserved for context cancellation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, execCtx map[string]any) *Result {
	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return Fail("unknown tool: %s", name)
	}

	if info := r.CheckPermission(tool, stringValue(execCtx["task_id"])); !info.Allowed {
		reason := info.Reason
		if info.Pending {
			reason = "elevation " + reason
		}
		return Fail("Permission denied: %s", reason)
	}

	if r.validator != nil {
		if verdict := r.validator.Validate(name, args); !verdict.Allowed {
			r.logger.Warn("security validator blocked tool call", "tool", name, "reason", verdict.Reason)
			return Fail("Security blocked: %s", verdict.Reason)
		}
	}

	if schema != nil {
		if err := schema.Validate(normalizeForSchema(args)); err != nil {
			return Fail("invalid arguments for %s: %v", name, err)
		}
	}

	// Inject contextual keys after validation so they never interfere with
	// the schema-facing parameters.
	merged := make(map[string]any, len(args)+len(tool.ContextKeys))
	for k, v := range args {
		merged[k] = v
	}
	for _, key := range tool.ContextKeys {
		if v, ok := execCtx[key]; ok {
			merged[key] = v
		}
	}

	result := r.invoke(ctx, tool, merged)
	if result == nil {
		result = Fail("tool %s returned no result", name)
	}
	return result
}

// invoke runs the handler with panic recovery.
func (r *Registry) invoke(ctx context.Context, tool *Tool, args map[string]any) (result *Result) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", tool.Name, "panic", rec)
			result = Fail("tool %s panicked: %v", tool.Name, rec)
		}
	}()

	res, err := tool.Handler(ctx, args)
	if err != nil {
		r.logger.Error("tool failed", "tool", tool.Name, "error", err)
		return Fail("%v", err)
	}
	return res
}

// normalizeForSchema round-trips args through JSON so numeric types match
// what the schema validator expects.
func normalizeForSchema(args map[string]any) any {
	data, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return args
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
