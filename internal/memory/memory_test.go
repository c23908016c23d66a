package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/vector"
	"github.com/pai-platform/pai/pkg/models"
)

// stubEmbedder hashes text onto a small vector so identical content always
// collides exactly and distinct content points in an unrelated direction.
type stubEmbedder struct {
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	h := fnv.New64a()
	h.Write([]byte(text))
	sum := h.Sum64()
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(byte(sum>>(8*i))) - 127.5
	}
	return vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int { return 8 }
func (s *stubEmbedder) Name() string   { return "stub" }

func newWarm(t *testing.T) *WarmTier {
	t.Helper()
	return NewWarmTier(vector.NewMemoryStore(), &stubEmbedder{}, nil, nil)
}

func validLearning(content string) *models.Learning {
	l := models.NewLearning(content, models.PhaseExecute, "tool_pattern")
	l.AgentType = "developer"
	l.CreatedByAgent = "developer"
	l.Confidence = 0.8
	return l
}

func TestStoreLearningQualityGate(t *testing.T) {
	w := newWarm(t)
	ctx := context.Background()

	tests := []struct {
		name string
		l    *models.Learning
	}{
		{name: "too short", l: validLearning("short text")},
		{
			name: "low confidence",
			l: func() *models.Learning {
				l := validLearning("a perfectly reasonable learning about retries")
				l.Confidence = 0.2
				return l
			}(),
		},
		{name: "mostly symbols", l: validLearning("1234567890 !@#$%^&*() 1234567890 ====")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := w.StoreLearning(ctx, tt.l, false); !errors.Is(err, ErrQualityRejected) {
				t.Errorf("error = %v, want ErrQualityRejected", err)
			}
		})
	}
}

func TestStoreLearningDeduplicates(t *testing.T) {
	w := newWarm(t)
	ctx := context.Background()

	first := validLearning("retry transient network errors with exponential backoff")
	id1, err := w.StoreLearning(ctx, first, true)
	if err != nil {
		t.Fatalf("first store error = %v", err)
	}

	dup := validLearning("retry transient network errors with exponential backoff")
	id2, err := w.StoreLearning(ctx, dup, true)
	if err != nil {
		t.Fatalf("dup store error = %v", err)
	}
	if id2 != id1 {
		t.Errorf("duplicate got new id %s, want %s", id2, id1)
	}

	// Same content, different category: not a duplicate.
	other := validLearning("retry transient network errors with exponential backoff")
	other.Category = "error"
	id3, err := w.StoreLearning(ctx, other, true)
	if err != nil {
		t.Fatalf("other store error = %v", err)
	}
	if id3 == id1 {
		t.Error("different category collapsed into duplicate")
	}
}

func TestSearchLearningsACLAndScope(t *testing.T) {
	w := newWarm(t)
	ctx := context.Background()

	store := func(mutate func(l *models.Learning)) string {
		l := validLearning(fmt.Sprintf("learning nugget %d about deploy pipelines", time.Now().UnixNano()))
		mutate(l)
		id, err := w.StoreLearning(ctx, l, false)
		if err != nil {
			t.Fatalf("store error = %v", err)
		}
		return id
	}

	publicID := store(func(l *models.Learning) {
		l.Sensitivity = models.SensitivityPublic
		l.CreatedByAgent = "researcher"
	})
	restrictedID := store(func(l *models.Learning) {
		l.Sensitivity = models.SensitivityRestricted
		l.AllowedAgents = []string{"researcher"}
		l.CreatedByAgent = "researcher"
	})
	projectID := store(func(l *models.Learning) {
		l.Scope = models.ScopeProject
		l.ProjectID = "proj-1"
		l.Sensitivity = models.SensitivityPublic
		l.CreatedByAgent = "researcher"
	})

	got, err := w.SearchLearnings(ctx, "deploy pipelines", "", "", 10, "developer", permission.LevelStandard, "proj-2", "")
	if err != nil {
		t.Fatalf("search error = %v", err)
	}
	ids := map[string]bool{}
	for _, l := range got {
		ids[l.ID] = true
	}
	if !ids[publicID] {
		t.Error("public learning filtered out")
	}
	if ids[restrictedID] {
		t.Error("restricted learning leaked to non-allowed agent")
	}
	if ids[projectID] {
		t.Error("PROJECT-scoped learning leaked to another project")
	}

	// Supervisor level bypasses sensitivity but not scope.
	got, err = w.SearchLearnings(ctx, "deploy pipelines", "", "", 10, "supervisor", permission.LevelAdmin, "proj-1", "")
	if err != nil {
		t.Fatalf("supervisor search error = %v", err)
	}
	ids = map[string]bool{}
	for _, l := range got {
		ids[l.ID] = true
	}
	if !ids[restrictedID] {
		t.Error("supervisor denied restricted learning")
	}
	if !ids[projectID] {
		t.Error("matching project scope filtered out")
	}
}

func TestBoostAndDecayBounds(t *testing.T) {
	w := newWarm(t)
	ctx := context.Background()

	id, err := w.StoreLearning(ctx, validLearning("prefer structured logs over print statements"), false)
	if err != nil {
		t.Fatalf("store error = %v", err)
	}

	for i := 0; i < 10; i++ {
		if err := w.BoostLearning(ctx, id, 0.1); err != nil {
			t.Fatalf("boost error = %v", err)
		}
	}
	got := mustGetLearning(t, w, id)
	if got.UtilityScore != 1 {
		t.Errorf("utility after boosts = %f, want 1", got.UtilityScore)
	}
	if got.AccessCount != 10 {
		t.Errorf("access count = %d, want 10", got.AccessCount)
	}

	for i := 0; i < 30; i++ {
		if err := w.DecayLearning(ctx, id, 0.05); err != nil {
			t.Fatalf("decay error = %v", err)
		}
	}
	got = mustGetLearning(t, w, id)
	if got.UtilityScore != 0 {
		t.Errorf("utility after decays = %f, want 0", got.UtilityScore)
	}
}

func TestUpdateLearningReembedsOnContentChange(t *testing.T) {
	store := vector.NewMemoryStore()
	w := NewWarmTier(store, &stubEmbedder{}, nil, nil)
	ctx := context.Background()

	id, err := w.StoreLearning(ctx, validLearning("original content about caching strategies"), false)
	if err != nil {
		t.Fatalf("store error = %v", err)
	}
	before, _ := store.Get(ctx, id)

	if err := w.UpdateLearning(ctx, id, func(l *models.Learning) { l.Confidence = 0.9 }); err != nil {
		t.Fatalf("metadata update error = %v", err)
	}
	afterMeta, _ := store.Get(ctx, id)
	if !equalVec(before.Vector, afterMeta.Vector) {
		t.Error("metadata-only update re-embedded")
	}
	if afterMeta.Payload["updated_at"] == nil {
		t.Error("updated_at not set")
	}

	if err := w.UpdateLearning(ctx, id, func(l *models.Learning) {
		l.Content = "completely different content about database indexing"
	}); err != nil {
		t.Fatalf("content update error = %v", err)
	}
	afterContent, _ := store.Get(ctx, id)
	if equalVec(before.Vector, afterContent.Vector) {
		t.Error("content change did not re-embed")
	}
}

func TestHotTierTraceRoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()
	hot := NewHotTier(store, time.Hour, nil, nil)
	ctx := context.Background()

	if err := hot.StoreTaskTrace(ctx, "t1", models.PhaseObserve, map[string]any{"input": "task payload"}); err != nil {
		t.Fatalf("StoreTaskTrace error = %v", err)
	}
	if err := hot.StoreTaskTrace(ctx, "t1", models.PhaseVerify, map[string]any{"duration_ms": 1200}); err != nil {
		t.Fatalf("StoreTaskTrace error = %v", err)
	}

	trace, err := hot.GetTaskTrace(ctx, "t1", models.PhaseObserve)
	if err != nil {
		t.Fatalf("GetTaskTrace error = %v", err)
	}
	if trace.Data["input"] != "task payload" {
		t.Errorf("trace data = %v", trace.Data)
	}

	traces, err := hot.GetTaskTraces(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTaskTraces error = %v", err)
	}
	if len(traces) != 2 || traces[0].Phase != models.PhaseObserve || traces[1].Phase != models.PhaseVerify {
		t.Errorf("traces = %+v", traces)
	}
}

func TestColdArchiveLayoutAndCleanup(t *testing.T) {
	root := t.TempDir()
	cold := NewColdTier(root, nil, nil)
	ctx := context.Background()

	l := validLearning("a learning that is old enough to archive")
	path, err := cold.ArchiveToCold(ctx, l, "short summary")
	if err != nil {
		t.Fatalf("ArchiveToCold error = %v", err)
	}
	wantDir := filepath.Join(root, "Learning", "EXECUTE")
	if filepath.Dir(path) != wantDir {
		t.Errorf("archive dir = %s, want %s", filepath.Dir(path), wantDir)
	}
	base := filepath.Base(path)
	if !strings.HasSuffix(base, "_tool_pattern.json") {
		t.Errorf("archive filename = %s", base)
	}
	if _, ok := filenameTimestamp(base); !ok {
		t.Errorf("filename timestamp unparseable: %s", base)
	}

	// Same-second second archive must not overwrite.
	path2, err := cold.ArchiveToCold(ctx, l, "")
	if err != nil {
		t.Fatalf("second ArchiveToCold error = %v", err)
	}
	if path2 == path {
		t.Error("append-only archive overwrote a file")
	}

	// Cleanup removes files older than the cutoff, judged by filename.
	old := filepath.Join(wantDir, "20200101_000000_stale.json")
	if err := os.WriteFile(old, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	removed, err := cold.CleanupColdStorage(ctx, 365)
	if err != nil {
		t.Fatalf("CleanupColdStorage error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("recent archive file was removed")
	}
}

func TestArchiveOldWarmThresholds(t *testing.T) {
	store := vector.NewMemoryStore()
	w := NewWarmTier(store, &stubEmbedder{}, nil, nil)
	cold := NewColdTier(t.TempDir(), nil, nil)
	hot := NewHotTier(kv.NewMemoryStore(), time.Hour, nil, nil)
	m := NewManager(hot, w, cold, kv.NewMemoryStore(), nil)

	ctx := context.Background()
	now := time.Now().UTC()
	m.now = func() time.Time { return now }

	mk := func(content string, age int, confidence float64, category string) string {
		l := validLearning(content)
		l.Confidence = confidence
		l.Category = category
		id, err := w.StoreLearning(ctx, l, false)
		if err != nil {
			t.Fatalf("store error = %v", err)
		}
		err = w.UpdateLearning(ctx, id, func(l *models.Learning) {
			l.CreatedAt = now.AddDate(0, 0, -age)
		})
		if err != nil {
			t.Fatalf("age update error = %v", err)
		}
		return id
	}

	oldOrdinary := mk("an ordinary learning well past the standard window", 45, 0.7, "tool_pattern")
	oldError := mk("an error learning well past the standard window too", 45, 0.95, "error")
	highConfYoung := mk("a high confidence learning inside its longer window", 45, 0.95, "tool_pattern")
	highConfOld := mk("a high confidence learning past even the long window", 70, 0.95, "tool_pattern")
	fresh := mk("a fresh learning nowhere near any archival window yet", 5, 0.7, "tool_pattern")

	archived, deleted, err := m.ArchiveOldWarm(ctx, DefaultArchiveOptions())
	if err != nil {
		t.Fatalf("ArchiveOldWarm error = %v", err)
	}
	if archived != 3 || deleted != 3 {
		t.Errorf("archived = %d, deleted = %d, want 3, 3", archived, deleted)
	}

	stillThere := func(id string) bool {
		doc, _ := store.Get(ctx, id)
		return doc != nil
	}
	if stillThere(oldOrdinary) {
		t.Error("old ordinary learning not archived")
	}
	if stillThere(oldError) {
		t.Error("old error learning not archived despite high confidence")
	}
	if !stillThere(highConfYoung) {
		t.Error("high-confidence learning archived before its window")
	}
	if stillThere(highConfOld) {
		t.Error("expired high-confidence learning not archived")
	}
	if !stillThere(fresh) {
		t.Error("fresh learning archived")
	}
}

func TestFlushPromotesOnlyVerifiedTasks(t *testing.T) {
	kvStore := kv.NewMemoryStore()
	vecStore := vector.NewMemoryStore()
	w := NewWarmTier(vecStore, &stubEmbedder{}, nil, nil)
	hot := NewHotTier(kvStore, time.Hour, nil, nil)
	m := NewManager(hot, w, NewColdTier(t.TempDir(), nil, nil), kvStore, nil)
	ctx := context.Background()

	hot.StoreTaskTrace(ctx, "unverified", models.PhaseObserve, map[string]any{"detail": "observed something interesting"})
	counts, err := m.Flush(ctx, "unverified")
	if err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	if counts.Promoted != 0 {
		t.Errorf("promoted = %d for unverified task, want 0", counts.Promoted)
	}

	hot.StoreTaskTrace(ctx, "done", models.PhaseObserve, map[string]any{"detail": "observed the failing integration test"})
	hot.StoreTaskTrace(ctx, "done", models.PhaseVerify, map[string]any{"duration_ms": 900, "result": "all checks passed"})
	counts, err = m.Flush(ctx, "done")
	if err != nil {
		t.Fatalf("Flush error = %v", err)
	}
	if counts.Promoted != 2 {
		t.Errorf("promoted = %d, want 2", counts.Promoted)
	}
}

func TestCanAccessRules(t *testing.T) {
	base := func() *models.Learning {
		return &models.Learning{
			CreatedByAgent:  "researcher",
			Sensitivity:     models.SensitivityInternal,
			PermissionLevel: permission.LevelSystem,
		}
	}

	tests := []struct {
		name   string
		mutate func(l *models.Learning)
		agent  string
		level  int
		want   bool
	}{
		{name: "creator always allowed", agent: "researcher", level: permission.LevelReadOnly, want: true},
		{name: "supervisor always allowed", agent: "developer", level: permission.LevelAdmin, want: true},
		{
			name:   "public allowed",
			mutate: func(l *models.Learning) { l.Sensitivity = models.SensitivityPublic },
			agent:  "developer", level: permission.LevelReadOnly, want: true,
		},
		{name: "internal below level denied", agent: "developer", level: permission.LevelStandard, want: false},
		{name: "internal at level allowed", agent: "developer", level: permission.LevelSystem, want: true},
		{
			name: "restricted allowlisted",
			mutate: func(l *models.Learning) {
				l.Sensitivity = models.SensitivityRestricted
				l.AllowedAgents = []string{"developer"}
			},
			agent: "developer", level: permission.LevelReadOnly, want: true,
		},
		{
			name: "restricted not listed denied",
			mutate: func(l *models.Learning) {
				l.Sensitivity = models.SensitivityRestricted
				l.AllowedAgents = []string{"ops"}
			},
			agent: "developer", level: permission.LevelSystem, want: false,
		},
		{
			name:   "unknown sensitivity defaults to allow",
			mutate: func(l *models.Learning) { l.Sensitivity = "" },
			agent:  "developer", level: permission.LevelReadOnly, want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base()
			if tt.mutate != nil {
				tt.mutate(l)
			}
			if got := CanAccess(l, tt.agent, tt.level); got != tt.want {
				t.Errorf("CanAccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func mustGetLearning(t *testing.T, w *WarmTier, id string) *models.Learning {
	t.Helper()
	doc, err := w.store.Get(context.Background(), id)
	if err != nil || doc == nil {
		t.Fatalf("get %s = %v, %v", id, doc, err)
	}
	return learningFromPayload(id, doc.Payload)
}

func equalVec(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
