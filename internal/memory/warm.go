package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/pai-platform/pai/internal/embeddings"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/internal/vector"
	"github.com/pai-platform/pai/pkg/models"
)

// Quality gates applied before a learning is stored.
const (
	MinContentChars = 20
	MinConfidence   = 0.40
	MinAlphaRatio   = 0.40

	// DedupThreshold is the similarity score at or above which a new
	// learning is considered a duplicate of an existing one with the same
	// agent type and category.
	DedupThreshold = 0.92

	searchOverfetchFactor = 3
)

// ErrQualityRejected is returned when a learning fails the quality gate.
var ErrQualityRejected = errors.New("memory: learning rejected by quality gate")

// WarmTier is the semantic learning store backed by the vector store.
type WarmTier struct {
	store    vector.Store
	embedder embeddings.Provider
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewWarmTier builds the warm tier.
func NewWarmTier(store vector.Store, embedder embeddings.Provider, logger *slog.Logger, metrics *observability.Metrics) *WarmTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WarmTier{store: store, embedder: embedder, logger: logger, metrics: metrics}
}

// StoreLearning stores a learning after the quality gate and, when
// deduplicate is set, a similarity check. Returns the stored (or existing
// duplicate's) id.
func (w *WarmTier) StoreLearning(ctx context.Context, l *models.Learning, deduplicate bool) (string, error) {
	if err := qualityCheck(l); err != nil {
		return "", err
	}
	if err := l.Validate(); err != nil {
		return "", fmt.Errorf("memory: invalid learning: %w", err)
	}

	vec, err := w.embedder.Embed(ctx, l.Content)
	if err != nil {
		return "", fmt.Errorf("memory: embed learning: %w", err)
	}

	if deduplicate {
		filter := vector.Filter{}
		if l.AgentType != "" {
			filter["agent_type"] = l.AgentType
		}
		hits, err := w.store.Search(ctx, vec, 3, filter)
		if err != nil {
			w.logger.Warn("dedup search failed, storing without dedup", "error", err)
		} else {
			for _, hit := range hits {
				if hit.Score < DedupThreshold {
					continue
				}
				existing := learningFromPayload(hit.ID, hit.Payload)
				if existing.AgentType == l.AgentType && existing.Category == l.Category {
					if w.metrics != nil {
						w.metrics.DedupSkipped.Inc()
					}
					w.logger.Debug("duplicate learning skipped",
						"existing_id", hit.ID, "category", l.Category, "score", hit.Score)
					return hit.ID, nil
				}
			}
		}
	}

	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	doc := vector.Document{ID: l.ID, Vector: vec, Payload: learningToPayload(l)}
	if err := w.store.Upsert(ctx, doc); err != nil {
		return "", fmt.Errorf("memory: store learning: %w", err)
	}
	w.countOp("store")
	return l.ID, nil
}

// UpdateLearning patches a stored learning. The content is re-embedded only
// when it changes; updated_at is always set.
func (w *WarmTier) UpdateLearning(ctx context.Context, id string, patch func(l *models.Learning)) error {
	doc, err := w.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("memory: load learning %s: %w", id, err)
	}
	if doc == nil {
		return fmt.Errorf("memory: learning %s not found", id)
	}

	l := learningFromPayload(id, doc.Payload)
	oldContent := l.Content
	patch(l)

	vec := doc.Vector
	if l.Content != oldContent {
		vec, err = w.embedder.Embed(ctx, l.Content)
		if err != nil {
			return fmt.Errorf("memory: re-embed learning %s: %w", id, err)
		}
	}

	payload := learningToPayload(l)
	payload["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := w.store.Upsert(ctx, vector.Document{ID: id, Vector: vec, Payload: payload}); err != nil {
		return fmt.Errorf("memory: update learning %s: %w", id, err)
	}
	w.countOp("update")
	return nil
}

// SearchLearnings semantically searches the warm tier. Results are
// over-fetched and then filtered by ACL and scope; at most limit learnings
// are returned.
func (w *WarmTier) SearchLearnings(ctx context.Context, query string, phase, category string, limit int, agentType string, permissionLevel int, projectID, domainID string) ([]*models.Learning, error) {
	if limit <= 0 {
		limit = 5
	}
	vec, err := w.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}

	filter := vector.Filter{}
	if phase != "" {
		filter["phase"] = phase
	}
	if category != "" {
		filter["category"] = category
	}

	hits, err := w.store.Search(ctx, vec, limit*searchOverfetchFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("memory: search learnings: %w", err)
	}
	w.countOp("search")

	accepted := make([]*models.Learning, 0, limit)
	for _, hit := range hits {
		l := learningFromPayload(hit.ID, hit.Payload)
		if !CanAccess(l, agentType, permissionLevel) {
			continue
		}
		if !l.AccessibleInContext(projectID, domainID) {
			continue
		}
		accepted = append(accepted, l)
		if len(accepted) >= limit {
			break
		}
	}
	return accepted, nil
}

// BoostLearning raises a learning's utility and records the access.
func (w *WarmTier) BoostLearning(ctx context.Context, id string, amount float64) error {
	return w.UpdateLearning(ctx, id, func(l *models.Learning) {
		l.UtilityScore = min(1, l.UtilityScore+amount)
		l.AccessCount++
		l.LastAccessed = time.Now().UTC()
	})
}

// DecayLearning lowers a learning's utility.
func (w *WarmTier) DecayLearning(ctx context.Context, id string, amount float64) error {
	return w.UpdateLearning(ctx, id, func(l *models.Learning) {
		l.UtilityScore = max(0, l.UtilityScore-amount)
	})
}

// GetLearningsByCategory scrolls learnings of one category.
func (w *WarmTier) GetLearningsByCategory(ctx context.Context, category string, limit int) ([]*models.Learning, error) {
	docs, err := w.store.Scroll(ctx, vector.Filter{"category": category}, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: scroll by category: %w", err)
	}
	return docsToLearnings(docs), nil
}

// GetLearningsByUtility scrolls learnings and keeps those at or above a
// minimum utility score.
func (w *WarmTier) GetLearningsByUtility(ctx context.Context, minUtility float64, limit int) ([]*models.Learning, error) {
	docs, err := w.store.Scroll(ctx, nil, limit*searchOverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("memory: scroll by utility: %w", err)
	}
	out := make([]*models.Learning, 0, limit)
	for _, doc := range docs {
		l := learningFromPayload(doc.ID, doc.Payload)
		if l.UtilityScore >= minUtility {
			out = append(out, l)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// GetLearningsBefore scrolls learnings created before the cutoff.
func (w *WarmTier) GetLearningsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Learning, error) {
	docs, err := w.store.Scroll(ctx, nil, limit*searchOverfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("memory: scroll by age: %w", err)
	}
	out := make([]*models.Learning, 0, limit)
	for _, doc := range docs {
		l := learningFromPayload(doc.ID, doc.Payload)
		if !l.CreatedAt.IsZero() && l.CreatedAt.Before(cutoff) {
			out = append(out, l)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// DeleteLearnings removes learnings by id.
func (w *WarmTier) DeleteLearnings(ctx context.Context, ids ...string) error {
	if err := w.store.Delete(ctx, ids...); err != nil {
		return fmt.Errorf("memory: delete learnings: %w", err)
	}
	w.countOp("delete")
	return nil
}

// ScrollAll pages through every stored learning, up to limit.
func (w *WarmTier) ScrollAll(ctx context.Context, limit int) ([]*models.Learning, error) {
	docs, err := w.store.Scroll(ctx, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: scroll all: %w", err)
	}
	return docsToLearnings(docs), nil
}

func (w *WarmTier) countOp(op string) {
	if w.metrics != nil {
		w.metrics.MemoryOps.WithLabelValues("warm", op).Inc()
	}
}

// qualityCheck enforces the storage gate: enough content, enough
// confidence, and mostly alphabetic text.
func qualityCheck(l *models.Learning) error {
	if len(l.Content) < MinContentChars {
		return fmt.Errorf("%w: content shorter than %d chars", ErrQualityRejected, MinContentChars)
	}
	if l.Confidence < MinConfidence {
		return fmt.Errorf("%w: confidence %.2f below %.2f", ErrQualityRejected, l.Confidence, MinConfidence)
	}
	if ratio := alphaRatio(l.Content); ratio < MinAlphaRatio {
		return fmt.Errorf("%w: alphabetic ratio %.2f below %.2f", ErrQualityRejected, ratio, MinAlphaRatio)
	}
	return nil
}

// alphaRatio is the fraction of alphabetic runes in s.
func alphaRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, alpha := 0, 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	return float64(alpha) / float64(total)
}

func docsToLearnings(docs []vector.Document) []*models.Learning {
	out := make([]*models.Learning, 0, len(docs))
	for _, doc := range docs {
		out = append(out, learningFromPayload(doc.ID, doc.Payload))
	}
	return out
}

// learningToPayload flattens a learning into a vector store payload via its
// JSON form.
func learningToPayload(l *models.Learning) map[string]any {
	data, err := json.Marshal(l)
	if err != nil {
		return map[string]any{"content": l.Content}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"content": l.Content}
	}
	delete(payload, "id")
	return payload
}

// learningFromPayload reconstructs a learning from a payload. Undecodable
// fields fall back to zero values.
func learningFromPayload(id string, payload map[string]any) *models.Learning {
	l := &models.Learning{ID: id}
	data, err := json.Marshal(payload)
	if err != nil {
		return l
	}
	_ = json.Unmarshal(data, l)
	l.ID = id
	return l
}
