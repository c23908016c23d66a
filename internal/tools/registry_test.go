package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pai-platform/pai/internal/permission"
)

func echoTool(name string, level int, sideEffects bool) *Tool {
	return &Tool{
		Name:        name,
		Description: "echo",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}},"required":["value"]}`),
		Permission:  level,
		Capability:  permission.CapabilityFile,
		SideEffects: sideEffects,
		Handler: func(_ context.Context, args map[string]any) (*Result, error) {
			return Ok(args["value"]), nil
		},
	}
}

func TestRegistryExecuteHappyPath(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	if err := r.Register(echoTool("echo", permission.LevelStandard, false)); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	res := r.Execute(context.Background(), "echo", map[string]any{"value": "hi"}, nil)
	if !res.Success || res.Output != "hi" {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	res := r.Execute(context.Background(), "nope", nil, nil)
	if res.Success || !strings.Contains(res.Error, "unknown tool") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryExecuteSchemaValidation(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	r.Register(echoTool("echo", permission.LevelStandard, false))

	res := r.Execute(context.Background(), "echo", map[string]any{}, nil)
	if res.Success || !strings.Contains(res.Error, "invalid arguments") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryPermissionDenied(t *testing.T) {
	permCtx := permission.NewContext("developer", permission.LevelStandard, nil, permission.LevelStandard)
	r := NewRegistry(permCtx, nil, nil, nil)
	tool := echoTool("admin_echo", permission.LevelAdmin, false)
	r.Register(tool)

	res := r.Execute(context.Background(), "admin_echo", map[string]any{"value": "x"}, nil)
	if res.Success || !strings.Contains(res.Error, "Permission denied") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryCapabilityRestriction(t *testing.T) {
	permCtx := permission.NewContext("monitor", permission.LevelAdmin, []string{permission.CapabilityMonitoring}, permission.LevelAdmin)
	r := NewRegistry(permCtx, nil, nil, nil)
	r.Register(echoTool("echo", permission.LevelStandard, false))

	info := r.CheckPermission(mustGet(t, r, "echo"), "t1")
	if info.Allowed || !strings.Contains(info.Reason, "capability") {
		t.Errorf("info = %+v", info)
	}
}

func TestRegistryElevationAutoApproval(t *testing.T) {
	permCtx := permission.NewContext("developer", permission.LevelStandard, nil, permission.LevelAdmin)
	mgr := permission.NewManager(15*time.Minute, nil)
	mgr.AddRule(permission.AutoApproveRule{ToolName: "sys", MaxLevel: permission.LevelSystem, Reason: "trusted"})
	r := NewRegistry(permCtx, mgr, nil, nil)

	tool := echoTool("sys", permission.LevelSystem, true)
	tool.AllowsElevation = true
	r.Register(tool)

	info := r.CheckPermission(mustGet(t, r, "sys"), "t1")
	if !info.Allowed || info.GrantID == "" {
		t.Fatalf("info = %+v, want auto-approved grant", info)
	}
	if permCtx.CurrentLevel() != permission.LevelSystem {
		t.Errorf("CurrentLevel = %d, want %d", permCtx.CurrentLevel(), permission.LevelSystem)
	}
}

func TestRegistryElevationPending(t *testing.T) {
	permCtx := permission.NewContext("developer", permission.LevelStandard, nil, permission.LevelAdmin)
	mgr := permission.NewManager(15*time.Minute, nil)
	r := NewRegistry(permCtx, mgr, nil, nil)

	tool := echoTool("sys", permission.LevelSystem, true)
	tool.AllowsElevation = true
	r.Register(tool)

	info := r.CheckPermission(mustGet(t, r, "sys"), "t1")
	if info.Allowed || !info.Pending {
		t.Errorf("info = %+v, want pending", info)
	}
}

func TestRegistrySecurityBlock(t *testing.T) {
	r := NewRegistry(nil, nil, NewValidator(), nil)
	r.Register(&Tool{
		Name:        "run_command",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}},"required":["command"]}`),
		SideEffects: true,
		Handler: func(_ context.Context, _ map[string]any) (*Result, error) {
			t.Error("handler ran for blocked call")
			return Ok(nil), nil
		},
	})

	res := r.Execute(context.Background(), "run_command", map[string]any{"command": "rm -rf /"}, nil)
	if res.Success || !strings.Contains(res.Error, "Security blocked") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryContextInjectionAfterValidation(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	var seen map[string]any
	r.Register(&Tool{
		Name:        "ctx_tool",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"value":{"type":"string"}},"required":["value"],"additionalProperties":false}`),
		ContextKeys: []string{"_task_id", "_agent_type"},
		Handler: func(_ context.Context, args map[string]any) (*Result, error) {
			seen = args
			return Ok(nil), nil
		},
	})

	res := r.Execute(context.Background(), "ctx_tool",
		map[string]any{"value": "x"},
		map[string]any{"_task_id": "t1", "_agent_type": "developer", "_memory": "ignored"},
	)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if seen["_task_id"] != "t1" || seen["_agent_type"] != "developer" {
		t.Errorf("injected args = %v", seen)
	}
	if _, ok := seen["_memory"]; ok {
		t.Error("undeclared context key was injected")
	}
}

func TestRegistryPanicRecovery(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	r.Register(&Tool{
		Name: "boom",
		Handler: func(_ context.Context, _ map[string]any) (*Result, error) {
			panic("kaput")
		},
	})

	res := r.Execute(context.Background(), "boom", nil, nil)
	if res.Success || !strings.Contains(res.Error, "panicked") {
		t.Errorf("result = %+v", res)
	}
}

func TestRegistryListElevatable(t *testing.T) {
	permCtx := permission.NewContext("developer", permission.LevelStandard, nil, permission.LevelAdmin)
	r := NewRegistry(permCtx, nil, nil, nil)

	low := echoTool("low", permission.LevelStandard, false)
	high := echoTool("high", permission.LevelSystem, true)
	high.AllowsElevation = true
	locked := echoTool("locked", permission.LevelAdmin, true)
	r.Register(low)
	r.Register(high)
	r.Register(locked)

	visible := r.List(ListOptions{MaxLevel: permission.LevelStandard})
	if len(visible) != 1 || visible[0].Name != "low" {
		t.Errorf("visible = %v", names(visible))
	}

	withElev := r.List(ListOptions{MaxLevel: permission.LevelStandard, IncludeElevatable: true})
	if len(withElev) != 2 {
		t.Errorf("withElev = %v, want low+high", names(withElev))
	}

	readOnly := r.List(ListOptions{MaxLevel: permission.LevelAdmin, SideEffectFree: true})
	if len(readOnly) != 1 || readOnly[0].Name != "low" {
		t.Errorf("readOnly = %v", names(readOnly))
	}
}

func TestRegistrySchemasProjection(t *testing.T) {
	r := NewRegistry(nil, nil, nil, nil)
	r.Register(echoTool("echo", permission.LevelStandard, false))

	defs := r.Schemas(ListOptions{MaxLevel: permission.LevelAdmin})
	if len(defs) != 1 || defs[0].Name != "echo" || len(defs[0].InputSchema) == 0 {
		t.Errorf("defs = %+v", defs)
	}
}

func mustGet(t *testing.T, r *Registry, name string) *Tool {
	t.Helper()
	tool, ok := r.Get(name)
	if !ok {
		t.Fatalf("tool %s not registered", name)
	}
	return tool
}

func names(ts []*Tool) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name
	}
	return out
}
