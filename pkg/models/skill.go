package models

import "time"

// AbstractionLevel classifies how granular a skill is.
type AbstractionLevel string

const (
	LevelPrimitive AbstractionLevel = "PRIMITIVE"
	LevelSkill     AbstractionLevel = "SKILL"
	LevelWorkflow  AbstractionLevel = "WORKFLOW"
)

// SkillStep is one ordered step of a skill recipe. Templates reference file
// patterns rather than concrete paths so the step generalizes across projects.
type SkillStep struct {
	Template     string   `json:"template"`
	FilePatterns []string `json:"file_patterns,omitempty"`
	AgentHint    string   `json:"agent_hint,omitempty"`
}

// ParamSpec describes one named skill parameter.
type ParamSpec struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// Skill is a reusable, parameterized recipe with preconditions, steps, and
// postconditions. Success rate and duration are exponentially weighted
// moving averages updated after each use.
type Skill struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Level       AbstractionLevel `json:"level"`

	// Preconditions are predicates over an execution context: "key" requires
	// presence, "key:value" requires equality against the stringified value.
	Preconditions  []string `json:"preconditions,omitempty"`
	Postconditions []string `json:"postconditions,omitempty"`

	Steps      []SkillStep          `json:"steps"`
	Parameters map[string]ParamSpec `json:"parameters,omitempty"`

	SuccessRate   float64 `json:"success_rate"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	UseCount      int     `json:"use_count"`

	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used,omitempty"`
}
