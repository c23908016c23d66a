// Package phase retrieves per-phase context for agent tasks: parallel
// queries against the warm learning tier and the skill library, a short
// request-scoped cache, and a feedback loop that boosts or decays the
// learnings a task actually used.
package phase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pai-platform/pai/internal/memory"
	"github.com/pai-platform/pai/internal/skills"
	"github.com/pai-platform/pai/pkg/models"
)

const (
	// CacheTTL bounds how long one phase context is reused for a task.
	CacheTTL = 300 * time.Second

	// FeedbackBoost and FeedbackDecay adjust utility after task completion.
	FeedbackBoost = 0.1
	FeedbackDecay = 0.05

	skillMinSuccessRate = 0.5
	maxParallelQueries  = 8
)

// patternCategories are surfaced separately from ordinary learnings.
var patternCategories = map[string]bool{
	"tool_success": true,
	"tool_error":   true,
	"tool_pattern": true,
}

// queryConfig is the static per-phase retrieval plan: which categories to
// pull and how many of each.
type queryConfig struct {
	Categories map[string]int
	Limit      int
}

var phaseQueries = map[models.Phase]queryConfig{
	models.PhaseObserve: {Categories: map[string]int{"observation": 3, "error": 2}, Limit: 5},
	models.PhaseThink:   {Categories: map[string]int{"insight": 3, "task_trace": 2}, Limit: 5},
	models.PhasePlan:    {Categories: map[string]int{"strategy": 3, "task_trace": 2}, Limit: 5},
	models.PhaseBuild:   {Categories: map[string]int{"tool_pattern": 3}, Limit: 5},
	models.PhaseExecute: {Categories: map[string]int{"tool_pattern": 3, "error": 2}, Limit: 5},
	models.PhaseVerify:  {Categories: map[string]int{"error": 3}, Limit: 5},
	models.PhaseLearn:   {Categories: map[string]int{"task_trace": 3}, Limit: 5},
}

// Request carries everything one phase context lookup needs.
type Request struct {
	Phase           models.Phase
	TaskID          string
	TaskDescription string
	AgentType       string
	PermissionLevel int
	ProjectID       string
	DomainID        string
	ToolName        string
}

// Context is the assembled per-phase context handed to the agent runtime.
type Context struct {
	Phase       models.Phase       `json:"phase"`
	Learnings   []*models.Learning `json:"learnings"`
	Patterns    []*models.Learning `json:"patterns"`
	Skills      []*models.Skill    `json:"skills,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	LearningIDs []string           `json:"learning_ids"`
}

type cacheEntry struct {
	ctx     *Context
	expires time.Time
}

// Manager runs phase context retrieval and the utility feedback loop.
type Manager struct {
	warm   *memory.WarmTier
	skills *skills.Library
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	// used tracks, per task, the learning ids handed out since the last
	// feedback application.
	used map[string]map[string]bool
	now  func() time.Time
}

// NewManager builds a phase memory manager. The skill library may be nil;
// THINK/PLAN lookups are then skipped.
func NewManager(warm *memory.WarmTier, library *skills.Library, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		warm:   warm,
		skills: library,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		used:   make(map[string]map[string]bool),
		now:    time.Now,
	}
}

func cacheKey(req *Request) string {
	return fmt.Sprintf("%s:%s:%s", req.TaskID, req.Phase, req.ToolName)
}

// GetPhaseContext assembles the context for one phase of a task. Queries run
// in parallel with failure isolation; a failed query contributes nothing.
func (m *Manager) GetPhaseContext(ctx context.Context, req *Request) (*Context, error) {
	key := cacheKey(req)
	m.mu.Lock()
	if entry, ok := m.cache[key]; ok && m.now().Before(entry.expires) {
		m.trackUsedLocked(req.TaskID, entry.ctx.LearningIDs)
		m.mu.Unlock()
		return entry.ctx, nil
	}
	m.mu.Unlock()

	cfg, ok := phaseQueries[req.Phase]
	if !ok {
		cfg = queryConfig{Limit: 5}
	}

	var (
		resMu     sync.Mutex
		collected []*models.Learning
		skillHits []*models.Skill
	)
	collect := func(ls []*models.Learning) {
		resMu.Lock()
		collected = append(collected, ls...)
		resMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelQueries)

	search := func(label, query, phase, category string, limit int) {
		g.Go(func() error {
			ls, err := m.warm.SearchLearnings(gctx, query, phase, category, limit,
				req.AgentType, req.PermissionLevel, req.ProjectID, req.DomainID)
			if err != nil {
				m.logger.Warn("phase query failed", "query", label, "phase", req.Phase, "error", err)
				return nil
			}
			collect(ls)
			return nil
		})
	}

	search("semantic", req.TaskDescription, string(req.Phase), "", cfg.Limit)
	for category, limit := range cfg.Categories {
		search("category:"+category, req.TaskDescription, "", category, limit)
	}
	if req.Phase == models.PhaseBuild && req.ToolName != "" {
		search("tool_success", req.ToolName, "", "tool_success", cfg.Limit)
		search("tool_error", req.ToolName, "", "tool_error", cfg.Limit)
	}
	if (req.Phase == models.PhaseThink || req.Phase == models.PhasePlan) && m.skills != nil {
		g.Go(func() error {
			found, err := m.skills.FindApplicableSkills(gctx, req.TaskDescription,
				map[string]any{"agent_type": req.AgentType}, skillMinSuccessRate, cfg.Limit)
			if err != nil {
				m.logger.Warn("skill lookup failed", "phase", req.Phase, "error", err)
				return nil
			}
			resMu.Lock()
			skillHits = found
			resMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := assemble(req.Phase, collected, skillHits, cfg.Limit)

	m.mu.Lock()
	m.cache[key] = cacheEntry{ctx: result, expires: m.now().Add(CacheTTL)}
	m.trackUsedLocked(req.TaskID, result.LearningIDs)
	m.mu.Unlock()
	return result, nil
}

// assemble deduplicates hits, splits patterns from learnings, sorts
// learnings by utility, and caps them at twice the phase limit.
func assemble(phase models.Phase, hits []*models.Learning, skillHits []*models.Skill, limit int) *Context {
	seen := make(map[string]bool, len(hits))
	var learnings, patterns []*models.Learning
	for _, l := range hits {
		if l.ID == "" || seen[l.ID] {
			continue
		}
		seen[l.ID] = true
		if patternCategories[l.Category] {
			patterns = append(patterns, l)
		} else {
			learnings = append(learnings, l)
		}
	}

	sort.SliceStable(learnings, func(i, j int) bool {
		return learnings[i].UtilityScore > learnings[j].UtilityScore
	})
	if keep := 2 * limit; len(learnings) > keep {
		learnings = learnings[:keep]
	}

	ids := make([]string, 0, len(learnings)+len(patterns))
	for _, l := range learnings {
		ids = append(ids, l.ID)
	}
	for _, p := range patterns {
		ids = append(ids, p.ID)
	}

	return &Context{
		Phase:     phase,
		Learnings: learnings,
		Patterns:  patterns,
		Skills:    skillHits,
		Metadata: map[string]any{
			"learning_count": len(learnings),
			"pattern_count":  len(patterns),
			"skill_count":    len(skillHits),
		},
		LearningIDs: ids,
	}
}

func (m *Manager) trackUsedLocked(taskID string, ids []string) {
	if taskID == "" || len(ids) == 0 {
		return
	}
	set, ok := m.used[taskID]
	if !ok {
		set = make(map[string]bool, len(ids))
		m.used[taskID] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// ApplyFeedback boosts (on success) or decays (on failure) every learning
// the task used, then clears the tracking entry. Returns how many learnings
// were adjusted.
func (m *Manager) ApplyFeedback(ctx context.Context, taskID string, success bool) (int, error) {
	m.mu.Lock()
	set := m.used[taskID]
	delete(m.used, taskID)
	m.mu.Unlock()
	if len(set) == 0 {
		return 0, nil
	}

	adjusted := 0
	var firstErr error
	for id := range set {
		var err error
		if success {
			err = m.warm.BoostLearning(ctx, id, FeedbackBoost)
		} else {
			err = m.warm.DecayLearning(ctx, id, FeedbackDecay)
		}
		if err != nil {
			m.logger.Warn("feedback update failed", "learning_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		adjusted++
	}
	return adjusted, firstErr
}

// InvalidateTask drops any cached contexts for a task, for use when the
// task is cancelled before feedback applies.
func (m *Manager) InvalidateTask(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := taskID + ":"
	for key := range m.cache {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(m.cache, key)
		}
	}
	delete(m.used, taskID)
}
