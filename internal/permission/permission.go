// Package permission models agent permission contexts, capability
// restrictions, and time-bounded elevation grants.
package permission

import (
	"sync"
	"time"
)

// Permission levels. Supervisors operate at LevelAdmin.
const (
	LevelReadOnly = 0
	LevelStandard = 1
	LevelElevated = 2
	LevelSystem   = 3
	LevelAdmin    = 4
)

// Capability categories tools declare.
const (
	CapabilitySystem     = "SYSTEM"
	CapabilityFile       = "FILE"
	CapabilityNetwork    = "NETWORK"
	CapabilityCode       = "CODE"
	CapabilityWeb        = "WEB"
	CapabilityMonitoring = "MONITORING"
)

// Grant is an issued elevation. Grants are immutable once issued; revocation
// is modeled as expiry.
type Grant struct {
	ID            string    `json:"id"`
	Level         int       `json:"level"`
	ToolName      string    `json:"tool_name"`
	TaskID        string    `json:"task_id"`
	Reason        string    `json:"reason"`
	Justification string    `json:"justification"`
	IssuedAt      time.Time `json:"issued_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Expired reports whether the grant is past its expiry.
func (g *Grant) Expired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

// Context is an agent's permission state: base level, capability
// restrictions, and the currently active elevation grant, if any. It lives
// for the lifetime of the agent and is safe for concurrent use.
type Context struct {
	agentType string
	baseLevel int
	// capabilities restricts what the agent may touch; empty means all
	// capabilities are allowed.
	capabilities map[string]bool
	ceiling      int

	mu    sync.RWMutex
	grant *Grant
	now   func() time.Time
}

// NewContext builds a permission context. An empty capability list means no
// restriction. ceiling bounds elevation; pass the base level to forbid
// elevation entirely.
func NewContext(agentType string, baseLevel int, capabilities []string, ceiling int) *Context {
	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}
	if ceiling < baseLevel {
		ceiling = baseLevel
	}
	return &Context{
		agentType:    agentType,
		baseLevel:    baseLevel,
		capabilities: caps,
		ceiling:      ceiling,
		now:          time.Now,
	}
}

// AgentType returns the owning agent's type.
func (c *Context) AgentType() string {
	return c.agentType
}

// BaseLevel returns the configured base permission level.
func (c *Context) BaseLevel() int {
	return c.baseLevel
}

// Ceiling returns the maximum level elevation may reach.
func (c *Context) Ceiling() int {
	return c.ceiling
}

// CurrentLevel returns the active grant's level if one exists and has not
// expired, otherwise the base level. Expired grants are dropped on read.
func (c *Context) CurrentLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.grant != nil {
		if c.grant.Expired(c.now()) {
			c.grant = nil
		} else {
			return c.grant.Level
		}
	}
	return c.baseLevel
}

// AllowsCapability reports whether the context permits a capability. An
// empty capability string or an unrestricted context always passes.
func (c *Context) AllowsCapability(capability string) bool {
	if capability == "" || len(c.capabilities) == 0 {
		return true
	}
	return c.capabilities[capability]
}

// ActiveGrant returns the current unexpired grant, or nil.
func (c *Context) ActiveGrant() *Grant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.grant != nil && !c.grant.Expired(c.now()) {
		return c.grant
	}
	return nil
}

// Install attaches an elevation grant to the context.
func (c *Context) Install(grant *Grant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grant = grant
}
