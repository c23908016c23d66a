package models

import (
	"fmt"
	"time"
)

// Phase is one of the seven abstraction steps used to classify agent work.
type Phase string

const (
	PhaseObserve Phase = "OBSERVE"
	PhaseThink   Phase = "THINK"
	PhasePlan    Phase = "PLAN"
	PhaseBuild   Phase = "BUILD"
	PhaseExecute Phase = "EXECUTE"
	PhaseVerify  Phase = "VERIFY"
	PhaseLearn   Phase = "LEARN"
)

// Phases lists all phases in pipeline order.
var Phases = []Phase{
	PhaseObserve, PhaseThink, PhasePlan, PhaseBuild,
	PhaseExecute, PhaseVerify, PhaseLearn,
}

// LearningScope isolates a learning to a matching context.
type LearningScope string

const (
	ScopeGlobal  LearningScope = "GLOBAL"
	ScopeProject LearningScope = "PROJECT"
	ScopeDomain  LearningScope = "DOMAIN"
)

// Sensitivity controls who may read a learning.
type Sensitivity string

const (
	SensitivityPublic     Sensitivity = "public"
	SensitivityInternal   Sensitivity = "internal"
	SensitivityRestricted Sensitivity = "restricted"
)

// Learning is a synthesized piece of knowledge stored in the warm memory
// tier and optionally archived to cold storage.
type Learning struct {
	ID       string `json:"id,omitempty"`
	Content  string `json:"content"`
	Phase    Phase  `json:"phase"`
	Category string `json:"category"`

	TaskID    string `json:"task_id,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`

	CreatedByAgent  string      `json:"created_by_agent"`
	PermissionLevel int         `json:"permission_level"`
	Sensitivity     Sensitivity `json:"sensitivity"`
	AllowedAgents   []string    `json:"allowed_agents,omitempty"`

	Scope     LearningScope `json:"scope"`
	ProjectID string        `json:"project_id,omitempty"`
	DomainID  string        `json:"domain_id,omitempty"`

	UtilityScore float64   `json:"utility_score"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewLearning builds a learning with the tracking defaults applied: global
// scope, internal sensitivity, and the initial 0.5 utility score.
func NewLearning(content string, phase Phase, category string) *Learning {
	return &Learning{
		Content:      content,
		Phase:        phase,
		Category:     category,
		Confidence:   0.5,
		Sensitivity:  SensitivityInternal,
		Scope:        ScopeGlobal,
		UtilityScore: 0.5,
		CreatedAt:    time.Now().UTC(),
	}
}

// Validate checks the scope and sensitivity invariants.
func (l *Learning) Validate() error {
	if l.Scope == ScopeProject && l.ProjectID == "" {
		return fmt.Errorf("learning with PROJECT scope requires a project id")
	}
	if l.Scope == ScopeDomain && l.DomainID == "" {
		return fmt.Errorf("learning with DOMAIN scope requires a domain id")
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("confidence %f out of range [0,1]", l.Confidence)
	}
	if l.UtilityScore < 0 || l.UtilityScore > 1 {
		return fmt.Errorf("utility score %f out of range [0,1]", l.UtilityScore)
	}
	return nil
}

// AccessibleInContext reports whether the learning's scope admits the given
// project/domain context. GLOBAL learnings are always accessible; unknown
// scopes are treated as GLOBAL.
func (l *Learning) AccessibleInContext(projectID, domainID string) bool {
	switch l.Scope {
	case ScopeProject:
		return l.ProjectID != "" && l.ProjectID == projectID
	case ScopeDomain:
		return l.DomainID != "" && l.DomainID == domainID
	default:
		return true
	}
}

// TaskTrace is a per-phase execution record stored in the hot tier.
type TaskTrace struct {
	TaskID    string         `json:"task_id"`
	Phase     Phase          `json:"phase"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
