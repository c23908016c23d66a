package skills

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/pai-platform/pai/internal/vector"
	"github.com/pai-platform/pai/pkg/models"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(byte(sum>>(8*i))) - 127.5
	}
	return vec, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 8 }
func (stubEmbedder) Name() string   { return "stub" }

func newLibrary(t *testing.T) *Library {
	t.Helper()
	return NewLibrary(vector.NewMemoryStore(), stubEmbedder{}, nil, nil)
}

func sampleSkill(name string) *models.Skill {
	return &models.Skill{
		Name:        name,
		Description: "scaffold a service with handlers and tests",
		Level:       models.LevelSkill,
		Steps: []models.SkillStep{
			{Template: "create the handler in **/*.go", FilePatterns: []string{"**/*.go"}},
		},
		SuccessRate: 0.9,
	}
}

func TestPreconditionsMatch(t *testing.T) {
	execContext := map[string]any{
		"project_type": "service",
		"language":     "go",
		"workers":      4,
	}

	tests := []struct {
		name  string
		preds []string
		want  bool
	}{
		{name: "empty always matches", preds: nil, want: true},
		{name: "presence", preds: []string{"language"}, want: true},
		{name: "missing key", preds: []string{"framework"}, want: false},
		{name: "value equality", preds: []string{"project_type:service"}, want: true},
		{name: "value mismatch", preds: []string{"project_type:library"}, want: false},
		{name: "non-string value stringified", preds: []string{"workers:4"}, want: true},
		{name: "all must hold", preds: []string{"language:go", "framework"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := preconditionsMatch(tt.preds, execContext); got != tt.want {
				t.Errorf("preconditionsMatch(%v) = %v, want %v", tt.preds, got, tt.want)
			}
		})
	}
}

func TestFindApplicableSkillsFilters(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	applicable := sampleSkill("scaffold_service")
	applicable.Preconditions = []string{"language:go"}
	if _, err := lib.StoreSkill(ctx, applicable); err != nil {
		t.Fatalf("store error = %v", err)
	}

	wrongContext := sampleSkill("scaffold_python_service")
	wrongContext.Preconditions = []string{"language:python"}
	if _, err := lib.StoreSkill(ctx, wrongContext); err != nil {
		t.Fatalf("store error = %v", err)
	}

	lowRate := sampleSkill("flaky_scaffold")
	lowRate.SuccessRate = 0.2
	if _, err := lib.StoreSkill(ctx, lowRate); err != nil {
		t.Fatalf("store error = %v", err)
	}

	got, err := lib.FindApplicableSkills(ctx, "scaffold a new service", map[string]any{"language": "go"}, 0.5, 5)
	if err != nil {
		t.Fatalf("FindApplicableSkills error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "scaffold_service" {
		names := make([]string, len(got))
		for i, s := range got {
			names[i] = s.Name
		}
		t.Errorf("applicable skills = %v, want [scaffold_service]", names)
	}
}

func TestUpdateSkillStatsEWMA(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	s := sampleSkill("scaffold_service")
	s.SuccessRate = 1.0
	s.AvgDurationMS = 1000
	s.UseCount = 1
	id, err := lib.StoreSkill(ctx, s)
	if err != nil {
		t.Fatalf("store error = %v", err)
	}

	if err := lib.UpdateSkillStats(ctx, id, false, 2000); err != nil {
		t.Fatalf("UpdateSkillStats error = %v", err)
	}
	got, err := lib.GetSkill(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("GetSkill = %v, %v", got, err)
	}
	if math.Abs(got.SuccessRate-0.8) > 1e-9 {
		t.Errorf("success rate = %f, want 0.8", got.SuccessRate)
	}
	if math.Abs(got.AvgDurationMS-1200) > 1e-9 {
		t.Errorf("avg duration = %f, want 1200", got.AvgDurationMS)
	}
	if got.UseCount != 2 {
		t.Errorf("use count = %d, want 2", got.UseCount)
	}
	if got.LastUsed.IsZero() {
		t.Error("last used not set")
	}
}

func TestLearnFromExecution(t *testing.T) {
	lib := newLibrary(t)
	ctx := context.Background()

	plan := &ExecutionPlan{
		Goal:        "add a health endpoint to the gateway",
		ProjectType: "service",
		Language:    "go",
		RootPath:    "/srv/gateway",
		ProjectName: "gateway",
		Steps: []PlanStep{
			{Description: "add the handler in internal/http/health.go", Files: []string{"internal/http/health.go"}},
			{Description: "register the route in cmd/gateway/main.go", Files: []string{"cmd/gateway/main.go"}},
		},
	}
	outcome := &ExecutionOutcome{
		Success:       true,
		DurationMS:    4200,
		FilesModified: []string{"internal/http/health.go"},
	}

	skill, err := lib.LearnFromExecution(ctx, plan, outcome)
	if err != nil {
		t.Fatalf("LearnFromExecution error = %v", err)
	}
	if skill == nil {
		t.Fatal("no skill learned from successful execution")
	}
	if skill.Name != "add_health_endpoint" {
		t.Errorf("name = %q, want add_health_endpoint", skill.Name)
	}
	if skill.SuccessRate != 1.0 || skill.UseCount != 1 {
		t.Errorf("stats = %f/%d, want 1.0/1", skill.SuccessRate, skill.UseCount)
	}
	wantPreds := map[string]bool{"project_type:service": true, "language:go": true, "has_go_files": true}
	for _, p := range skill.Preconditions {
		if !wantPreds[p] {
			t.Errorf("unexpected precondition %q", p)
		}
		delete(wantPreds, p)
	}
	for p := range wantPreds {
		t.Errorf("missing precondition %q", p)
	}
	if skill.Steps[0].Template != "add the handler in **/*.go" {
		t.Errorf("template = %q, concrete path not generalized", skill.Steps[0].Template)
	}
	if _, ok := skill.Parameters["root_path"]; !ok {
		t.Error("root_path parameter missing")
	}
	if skill.Parameters["project_name"].Default != "gateway" {
		t.Errorf("project_name default = %v", skill.Parameters["project_name"].Default)
	}

	// Failure teaches nothing.
	skill, err = lib.LearnFromExecution(ctx, plan, &ExecutionOutcome{Success: false})
	if err != nil {
		t.Fatalf("failed-outcome error = %v", err)
	}
	if skill != nil {
		t.Error("learned a skill from a failed execution")
	}
}

func TestInstantiate(t *testing.T) {
	skill := &models.Skill{
		Name:        "add_health_endpoint",
		Description: "add a health endpoint to the gateway",
		Steps: []models.SkillStep{
			{Template: "add the handler under {root_path} in **/*.go", FilePatterns: []string{"**/*.go"}},
		},
		Parameters: map[string]models.ParamSpec{
			"root_path":    {Type: "string", Required: true},
			"project_name": {Type: "string", Default: "gateway"},
		},
	}

	plan, err := Instantiate(skill, map[string]any{"root_path": "/srv/api"})
	if err != nil {
		t.Fatalf("Instantiate error = %v", err)
	}
	if plan.Source != "add_health_endpoint" {
		t.Errorf("source = %q", plan.Source)
	}
	if plan.Parameters["project_name"] != "gateway" {
		t.Errorf("default not applied: %v", plan.Parameters)
	}
	if got := plan.Steps[0].Files[0]; got != "/srv/api/*.go" {
		t.Errorf("expanded pattern = %q, want /srv/api/*.go", got)
	}
	if !strings.Contains(plan.Steps[0].Description, "/srv/api") {
		t.Errorf("parameter not substituted: %q", plan.Steps[0].Description)
	}

	if _, err := Instantiate(skill, map[string]any{}); err == nil {
		t.Error("missing required parameter accepted")
	}
}
