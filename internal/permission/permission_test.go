package permission

import (
	"testing"
	"time"
)

func TestCurrentLevelUsesGrantUntilExpiry(t *testing.T) {
	ctx := NewContext("developer", LevelStandard, nil, LevelAdmin)
	now := time.Now()
	ctx.now = func() time.Time { return now }

	if got := ctx.CurrentLevel(); got != LevelStandard {
		t.Fatalf("CurrentLevel = %d, want %d", got, LevelStandard)
	}

	ctx.Install(&Grant{
		ID:        "g1",
		Level:     LevelSystem,
		IssuedAt:  now,
		ExpiresAt: now.Add(15 * time.Minute),
	})
	if got := ctx.CurrentLevel(); got != LevelSystem {
		t.Errorf("elevated CurrentLevel = %d, want %d", got, LevelSystem)
	}

	now = now.Add(20 * time.Minute)
	if got := ctx.CurrentLevel(); got != LevelStandard {
		t.Errorf("post-expiry CurrentLevel = %d, want %d", got, LevelStandard)
	}
	if ctx.ActiveGrant() != nil {
		t.Error("expired grant still active")
	}
}

func TestAllowsCapability(t *testing.T) {
	tests := []struct {
		name         string
		restrictions []string
		capability   string
		want         bool
	}{
		{name: "unrestricted allows anything", restrictions: nil, capability: CapabilitySystem, want: true},
		{name: "empty capability always passes", restrictions: []string{CapabilityFile}, capability: "", want: true},
		{name: "allowed capability", restrictions: []string{CapabilityFile, CapabilityCode}, capability: CapabilityFile, want: true},
		{name: "denied capability", restrictions: []string{CapabilityFile}, capability: CapabilitySystem, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := NewContext("developer", LevelStandard, tt.restrictions, LevelAdmin)
			if got := ctx.AllowsCapability(tt.capability); got != tt.want {
				t.Errorf("AllowsCapability(%q) = %v, want %v", tt.capability, got, tt.want)
			}
		})
	}
}

func TestCeilingNeverBelowBase(t *testing.T) {
	ctx := NewContext("developer", LevelSystem, nil, LevelStandard)
	if ctx.Ceiling() != LevelSystem {
		t.Errorf("Ceiling = %d, want %d", ctx.Ceiling(), LevelSystem)
	}
}

func TestManagerAutoApproval(t *testing.T) {
	m := NewManager(15*time.Minute, nil)
	m.AddRule(AutoApproveRule{ToolName: "run_command", MaxLevel: LevelAdmin, Reason: "trusted tool"})

	ctx := NewContext("developer", LevelSystem, nil, LevelAdmin)
	dec := m.Evaluate(Request{
		Context:      ctx,
		ToolName:     "run_command",
		TaskID:       "t1",
		TargetLevel:  LevelAdmin,
		MaxToolLevel: LevelAdmin,
	})
	if !dec.Approved {
		t.Fatalf("decision = %+v, want approved", dec)
	}
	if ctx.CurrentLevel() != LevelAdmin {
		t.Errorf("CurrentLevel = %d, want %d", ctx.CurrentLevel(), LevelAdmin)
	}
	if dec.Grant == nil || dec.Grant.Reason != "trusted tool" {
		t.Errorf("grant = %+v", dec.Grant)
	}
}

func TestManagerPendingWithoutRule(t *testing.T) {
	m := NewManager(15*time.Minute, nil)
	ctx := NewContext("developer", LevelStandard, nil, LevelAdmin)

	dec := m.Evaluate(Request{
		Context:     ctx,
		ToolName:    "write_file",
		TargetLevel: LevelElevated,
	})
	if dec.Approved || !dec.Pending {
		t.Fatalf("decision = %+v, want pending", dec)
	}
	if ctx.CurrentLevel() != LevelStandard {
		t.Errorf("pending request changed level to %d", ctx.CurrentLevel())
	}
	if len(m.Pending()) != 1 {
		t.Errorf("pending queue len = %d, want 1", len(m.Pending()))
	}

	if !m.Approve(dec.Grant.ID, ctx) {
		t.Fatal("Approve returned false for pending grant")
	}
	if ctx.CurrentLevel() != LevelElevated {
		t.Errorf("CurrentLevel after approval = %d, want %d", ctx.CurrentLevel(), LevelElevated)
	}
}

func TestManagerRejectsAboveCeiling(t *testing.T) {
	m := NewManager(15*time.Minute, nil)
	m.AddRule(AutoApproveRule{ToolName: "*", MaxLevel: LevelAdmin})

	ctx := NewContext("developer", LevelStandard, nil, LevelElevated)
	dec := m.Evaluate(Request{Context: ctx, ToolName: "x", TargetLevel: LevelAdmin})
	if dec.Approved || dec.Pending {
		t.Errorf("decision = %+v, want outright rejection", dec)
	}
}

func TestManagerRespectsToolElevationLimit(t *testing.T) {
	m := NewManager(15*time.Minute, nil)
	m.AddRule(AutoApproveRule{ToolName: "*", MaxLevel: LevelAdmin})

	ctx := NewContext("developer", LevelStandard, nil, LevelAdmin)
	dec := m.Evaluate(Request{
		Context:      ctx,
		ToolName:     "x",
		TargetLevel:  LevelAdmin,
		MaxToolLevel: LevelSystem,
	})
	if dec.Approved || dec.Pending {
		t.Errorf("decision = %+v, want outright rejection", dec)
	}
}
