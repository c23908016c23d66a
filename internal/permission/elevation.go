package permission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request describes an elevation attempt the registry forwards here when an
// agent's current level is below a tool's requirement.
type Request struct {
	Context       *Context
	ToolName      string
	TaskID        string
	TargetLevel   int
	MaxToolLevel  int
	Justification string
}

// Decision is the outcome of an elevation request.
type Decision struct {
	Approved bool
	Pending  bool
	Reason   string
	Grant    *Grant
}

// AutoApproveRule decides whether a request is granted without supervisor
// involvement.
type AutoApproveRule struct {
	// ToolName matches a specific tool; "*" matches any.
	ToolName string
	// MaxLevel is the highest target level the rule approves.
	MaxLevel int
	// Reason is recorded on grants issued through this rule.
	Reason string
}

// Manager issues elevation grants. Requests not covered by an auto-approval
// rule are left pending for supervisor review.
type Manager struct {
	grantTTL time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	rules   []AutoApproveRule
	pending map[string]*Grant
}

// NewManager builds an elevation manager. grantTTL bounds grant lifetime;
// zero means 15 minutes.
func NewManager(grantTTL time.Duration, logger *slog.Logger) *Manager {
	if grantTTL <= 0 {
		grantTTL = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		grantTTL: grantTTL,
		logger:   logger,
		pending:  make(map[string]*Grant),
	}
}

// AddRule registers an auto-approval rule.
func (m *Manager) AddRule(rule AutoApproveRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule)
}

// Evaluate decides an elevation request. Approved requests get an installed
// grant; everything else is recorded as pending.
func (m *Manager) Evaluate(req Request) Decision {
	if req.TargetLevel > req.Context.Ceiling() {
		return Decision{Reason: "target level exceeds elevation ceiling"}
	}
	if req.MaxToolLevel > 0 && req.TargetLevel > req.MaxToolLevel {
		return Decision{Reason: "target level exceeds tool elevation limit"}
	}

	m.mu.RLock()
	var matched *AutoApproveRule
	for i := range m.rules {
		r := &m.rules[i]
		if (r.ToolName == "*" || r.ToolName == req.ToolName) && req.TargetLevel <= r.MaxLevel {
			matched = r
			break
		}
	}
	m.mu.RUnlock()

	now := time.Now()
	grant := &Grant{
		ID:            uuid.NewString(),
		Level:         req.TargetLevel,
		ToolName:      req.ToolName,
		TaskID:        req.TaskID,
		Justification: req.Justification,
		IssuedAt:      now,
		ExpiresAt:     now.Add(m.grantTTL),
	}

	if matched == nil {
		m.mu.Lock()
		m.pending[grant.ID] = grant
		m.mu.Unlock()
		m.logger.Info("elevation pending supervisor approval",
			"tool", req.ToolName,
			"task_id", req.TaskID,
			"target_level", req.TargetLevel,
		)
		return Decision{Pending: true, Reason: "pending supervisor approval", Grant: grant}
	}

	grant.Reason = matched.Reason
	req.Context.Install(grant)
	m.logger.Info("elevation auto-approved",
		"tool", req.ToolName,
		"task_id", req.TaskID,
		"target_level", req.TargetLevel,
		"grant_id", grant.ID,
	)
	return Decision{Approved: true, Grant: grant}
}

// Pending returns grants awaiting supervisor review.
func (m *Manager) Pending() []*Grant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Grant, 0, len(m.pending))
	for _, g := range m.pending {
		out = append(out, g)
	}
	return out
}

// Approve installs a pending grant onto ctx and removes it from the queue.
func (m *Manager) Approve(id string, ctx *Context) bool {
	m.mu.Lock()
	grant, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	ctx.Install(grant)
	return true
}
