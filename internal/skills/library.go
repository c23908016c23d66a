// Package skills implements the semantic skill library: reusable recipes
// stored in a dedicated vector collection, discovered by goal similarity and
// filtered by precondition match and historical success rate.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pai-platform/pai/internal/embeddings"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/internal/vector"
	"github.com/pai-platform/pai/pkg/models"
)

const (
	// statsAlpha is the EWMA weight applied to each new observation of a
	// skill's success and duration.
	statsAlpha = 0.2

	discoverySearchLimit = 20
)

// Library stores and retrieves skills. The embedded document text is
// "<name> - <description>"; the payload carries the full skill record.
type Library struct {
	store    vector.Store
	embedder embeddings.Provider
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewLibrary builds a skill library on the given vector collection.
func NewLibrary(store vector.Store, embedder embeddings.Provider, logger *slog.Logger, metrics *observability.Metrics) *Library {
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

func skillDocText(s *models.Skill) string {
	return fmt.Sprintf("%s - %s", s.Name, s.Description)
}

// StoreSkill upserts a skill, assigning an id and created-at when missing.
func (lib *Library) StoreSkill(ctx context.Context, s *models.Skill) (string, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	vec, err := lib.embedder.Embed(ctx, skillDocText(s))
	if err != nil {
		return "", fmt.Errorf("skills: embed skill %s: %w", s.Name, err)
	}
	doc := vector.Document{ID: s.ID, Vector: vec, Payload: skillToPayload(s)}
	if err := lib.store.Upsert(ctx, doc); err != nil {
		return "", fmt.Errorf("skills: store skill %s: %w", s.Name, err)
	}
	lib.countOp("store")
	return s.ID, nil
}

// GetSkill loads one skill by id. Missing skills return (nil, nil).
func (lib *Library) GetSkill(ctx context.Context, id string) (*models.Skill, error) {
	doc, err := lib.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("skills: load skill %s: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}
	return skillFromPayload(id, doc.Payload), nil
}

// FindApplicableSkills searches semantically by goal, then keeps skills whose
// preconditions hold in the given context and whose success rate meets the
// threshold.
func (lib *Library) FindApplicableSkills(ctx context.Context, goal string, execContext map[string]any, minSuccessRate float64, limit int) ([]*models.Skill, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := lib.embedder.Embed(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("skills: embed goal: %w", err)
	}
	hits, err := lib.store.Search(ctx, vec, discoverySearchLimit, nil)
	if err != nil {
		return nil, fmt.Errorf("skills: search skills: %w", err)
	}
	lib.countOp("search")

	applicable := make([]*models.Skill, 0, limit)
	for _, hit := range hits {
		s := skillFromPayload(hit.ID, hit.Payload)
		if s.SuccessRate < minSuccessRate {
			continue
		}
		if !preconditionsMatch(s.Preconditions, execContext) {
			continue
		}
		applicable = append(applicable, s)
		if len(applicable) >= limit {
			break
		}
	}
	return applicable, nil
}

// UpdateSkillStats folds one execution outcome into a skill's EWMA success
// rate and duration, bumps use_count, and persists. Last writer wins; stats
// are advisory.
func (lib *Library) UpdateSkillStats(ctx context.Context, id string, success bool, durationMS float64) error {
	doc, err := lib.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("skills: load skill %s: %w", id, err)
	}
	if doc == nil {
		return fmt.Errorf("skills: skill %s not found", id)
	}
	s := skillFromPayload(id, doc.Payload)

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	s.SuccessRate = (1-statsAlpha)*s.SuccessRate + statsAlpha*outcome
	if s.AvgDurationMS == 0 {
		s.AvgDurationMS = durationMS
	} else {
		s.AvgDurationMS = (1-statsAlpha)*s.AvgDurationMS + statsAlpha*durationMS
	}
	s.UseCount++
	s.LastUsed = time.Now().UTC()

	doc.Payload = skillToPayload(s)
	if err := lib.store.Upsert(ctx, *doc); err != nil {
		return fmt.Errorf("skills: update skill %s: %w", id, err)
	}
	lib.countOp("update")
	return nil
}

// preconditionsMatch evaluates the predicate list: "key" requires presence,
// "key:value" requires stringified equality.
func preconditionsMatch(preconditions []string, execContext map[string]any) bool {
	for _, pred := range preconditions {
		key, want, hasValue := cutPredicate(pred)
		got, ok := execContext[key]
		if !ok {
			return false
		}
		if hasValue && fmt.Sprintf("%v", got) != want {
			return false
		}
	}
	return true
}

func cutPredicate(pred string) (key, value string, hasValue bool) {
	for i := 0; i < len(pred); i++ {
		if pred[i] == ':' {
			return pred[:i], pred[i+1:], true
		}
	}
	return pred, "", false
}

func (lib *Library) countOp(op string) {
	if lib.metrics != nil {
		lib.metrics.SkillOps.WithLabelValues(op).Inc()
	}
}

func skillToPayload(s *models.Skill) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"name": s.Name}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"name": s.Name}
	}
	delete(payload, "id")
	return payload
}

func skillFromPayload(id string, payload map[string]any) *models.Skill {
	s := &models.Skill{ID: id}
	data, err := json.Marshal(payload)
	if err != nil {
		return s
	}
	_ = json.Unmarshal(data, s)
	s.ID = id
	return s
}
