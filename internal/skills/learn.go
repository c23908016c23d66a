package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pai-platform/pai/pkg/models"
)

// ExecutionPlan is the record of a plan an agent carried out, used to
// synthesize a reusable skill.
type ExecutionPlan struct {
	Goal        string         `json:"goal"`
	Steps       []PlanStep     `json:"steps"`
	ProjectType string         `json:"project_type,omitempty"`
	Language    string         `json:"language,omitempty"`
	Framework   string         `json:"framework,omitempty"`
	RootPath    string         `json:"root_path,omitempty"`
	ProjectName string         `json:"project_name,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PlanStep is one concrete step of an executed plan.
type PlanStep struct {
	Description string   `json:"description"`
	Files       []string `json:"files,omitempty"`
	AgentHint   string   `json:"agent_hint,omitempty"`
}

// ExecutionOutcome records how the plan went.
type ExecutionOutcome struct {
	Success       bool     `json:"success"`
	DurationMS    float64  `json:"duration_ms"`
	FilesModified []string `json:"files_modified,omitempty"`
}

// LearnFromExecution synthesizes a skill from a successful execution and
// stores it. Failed executions yield nothing; there is no recipe worth
// keeping in a plan that did not work.
func (lib *Library) LearnFromExecution(ctx context.Context, plan *ExecutionPlan, outcome *ExecutionOutcome) (*models.Skill, error) {
	if !outcome.Success {
		return nil, nil
	}
	if plan.Goal == "" || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("skills: plan has no goal or steps to learn from")
	}

	skill := &models.Skill{
		Name:           skillName(plan.Goal),
		Description:    plan.Goal,
		Level:          models.LevelSkill,
		Preconditions:  synthesizePreconditions(plan),
		Postconditions: synthesizePostconditions(outcome),
		Steps:          templatizeSteps(plan.Steps),
		Parameters:     buildParameters(plan),
		SuccessRate:    1.0,
		AvgDurationMS:  outcome.DurationMS,
		UseCount:       1,
		CreatedAt:      time.Now().UTC(),
		LastUsed:       time.Now().UTC(),
	}
	if plan.Language != "" {
		skill.Tags = append(skill.Tags, plan.Language)
	}
	if plan.Framework != "" {
		skill.Tags = append(skill.Tags, plan.Framework)
	}

	if _, err := lib.StoreSkill(ctx, skill); err != nil {
		return nil, err
	}
	lib.logger.Info("learned skill from execution",
		"skill", skill.Name, "steps", len(skill.Steps), "preconditions", len(skill.Preconditions))
	return skill, nil
}

// InstantiatedPlan is a skill expanded against a concrete context, ready to
// hand to an agent.
type InstantiatedPlan struct {
	Goal       string         `json:"goal"`
	Steps      []PlanStep     `json:"steps"`
	Parameters map[string]any `json:"parameters"`
	Source     string         `json:"skill_source"`
}

// Instantiate expands a skill against a context: parameters are resolved
// from the context or their defaults, and "**" file patterns are rooted at
// the context's root_path. Each step carries the skill name as its source.
func Instantiate(skill *models.Skill, execContext map[string]any) (*InstantiatedPlan, error) {
	params := make(map[string]any, len(skill.Parameters))
	for name, spec := range skill.Parameters {
		if v, ok := execContext[name]; ok {
			params[name] = v
			continue
		}
		if spec.Default != nil {
			params[name] = spec.Default
			continue
		}
		if spec.Required {
			return nil, fmt.Errorf("skills: missing required parameter %q for skill %s", name, skill.Name)
		}
	}

	rootPath, _ := params["root_path"].(string)
	steps := make([]PlanStep, len(skill.Steps))
	for i, step := range skill.Steps {
		files := make([]string, len(step.FilePatterns))
		for j, pattern := range step.FilePatterns {
			files[j] = expandPattern(pattern, rootPath)
		}
		steps[i] = PlanStep{
			Description: substituteParams(step.Template, params),
			Files:       files,
			AgentHint:   step.AgentHint,
		}
	}

	return &InstantiatedPlan{
		Goal:       skill.Description,
		Steps:      steps,
		Parameters: params,
		Source:     skill.Name,
	}, nil
}

// skillName derives a stable snake_case name from a goal: the leading verb
// plus up to two content words.
func skillName(goal string) string {
	words := strings.Fields(strings.ToLower(goal))
	kept := make([]string, 0, 3)
	for _, w := range words {
		w = strings.Map(func(r rune) rune {
			if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, w)
		if w == "" || isStopWord(w) {
			continue
		}
		kept = append(kept, w)
		if len(kept) == 3 {
			break
		}
	}
	if len(kept) == 0 {
		return "unnamed_skill"
	}
	return strings.Join(kept, "_")
}

func isStopWord(w string) bool {
	switch w {
	case "a", "an", "the", "to", "for", "of", "in", "on", "and", "with":
		return true
	}
	return false
}

func synthesizePreconditions(plan *ExecutionPlan) []string {
	var preds []string
	if plan.ProjectType != "" {
		preds = append(preds, "project_type:"+plan.ProjectType)
	}
	if plan.Language != "" {
		preds = append(preds, "language:"+plan.Language)
	}
	if plan.Framework != "" {
		preds = append(preds, "framework:"+plan.Framework)
	}
	for _, ext := range fileExtensions(plan.Steps) {
		preds = append(preds, "has_"+ext+"_files")
	}
	return preds
}

func synthesizePostconditions(outcome *ExecutionOutcome) []string {
	posts := []string{"execution_succeeded"}
	for _, f := range outcome.FilesModified {
		posts = append(posts, "modified:"+globPattern(f))
	}
	return posts
}

// templatizeSteps generalizes each step by replacing concrete file paths
// with glob patterns so the recipe transfers across projects.
func templatizeSteps(steps []PlanStep) []models.SkillStep {
	out := make([]models.SkillStep, len(steps))
	for i, step := range steps {
		template := step.Description
		patterns := make([]string, 0, len(step.Files))
		for _, f := range step.Files {
			pattern := globPattern(f)
			patterns = append(patterns, pattern)
			template = strings.ReplaceAll(template, f, pattern)
		}
		out[i] = models.SkillStep{
			Template:     template,
			FilePatterns: patterns,
			AgentHint:    step.AgentHint,
		}
	}
	return out
}

func buildParameters(plan *ExecutionPlan) map[string]models.ParamSpec {
	params := map[string]models.ParamSpec{
		"root_path": {
			Type:        "string",
			Required:    true,
			Description: "Project root directory the skill operates in",
		},
	}
	if plan.ProjectName != "" {
		params["project_name"] = models.ParamSpec{
			Type:        "string",
			Required:    false,
			Default:     plan.ProjectName,
			Description: "Name of the target project",
		}
	}
	return params
}

// globPattern generalizes one concrete path into an extension glob.
func globPattern(file string) string {
	ext := filepath.Ext(file)
	if ext == "" {
		return "**/" + filepath.Base(file)
	}
	return "**/*" + ext
}

// expandPattern roots a "**" glob at the concrete root path.
func expandPattern(pattern, rootPath string) string {
	if rootPath == "" || !strings.HasPrefix(pattern, "**") {
		return pattern
	}
	return filepath.Join(rootPath, strings.TrimPrefix(pattern, "**/"))
}

func substituteParams(template string, params map[string]any) string {
	for name, value := range params {
		template = strings.ReplaceAll(template, "{"+name+"}", fmt.Sprintf("%v", value))
	}
	return template
}

func fileExtensions(steps []PlanStep) []string {
	seen := map[string]bool{}
	var exts []string
	for _, step := range steps {
		for _, f := range step.Files {
			ext := strings.TrimPrefix(filepath.Ext(f), ".")
			if ext == "" || seen[ext] {
				continue
			}
			seen[ext] = true
			exts = append(exts, ext)
		}
	}
	return exts
}
