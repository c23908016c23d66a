package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/pkg/models"
)

// ArchiveOptions tunes the warm-to-cold archival sweep.
type ArchiveOptions struct {
	OlderThanDays           int
	HighConfidenceDays      int
	HighConfidenceThreshold float64
	BatchSize               int
	DeleteAfterArchive      bool
	// ScanLimit bounds how many warm documents one sweep inspects.
	ScanLimit int
}

// DefaultArchiveOptions returns the standard sweep configuration.
func DefaultArchiveOptions() ArchiveOptions {
	return ArchiveOptions{
		OlderThanDays:           30,
		HighConfidenceDays:      60,
		HighConfidenceThreshold: 0.9,
		BatchSize:               100,
		DeleteAfterArchive:      true,
		ScanLimit:               5000,
	}
}

// FlushCounts reports what one flush moved per tier.
type FlushCounts struct {
	Promoted int `json:"promoted"`
	Archived int `json:"archived"`
	Deleted  int `json:"deleted"`
}

// Manager composes the three tiers and runs the cross-tier pipelines:
// warm-to-cold archival and task flush with trace promotion.
type Manager struct {
	Hot  *HotTier
	Warm *WarmTier
	Cold *ColdTier

	store  kv.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewManager composes the tiers.
func NewManager(hot *HotTier, warm *WarmTier, cold *ColdTier, store kv.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Hot: hot, Warm: warm, Cold: cold, store: store, logger: logger, now: time.Now}
}

// ArchiveOldWarm sweeps the warm tier and archives documents to cold storage
// by category and confidence: error learnings and ordinary learnings age out
// at OlderThanDays, high-confidence learnings are retained until
// HighConfidenceDays. Archived ids are deleted in batches.
func (m *Manager) ArchiveOldWarm(ctx context.Context, opts ArchiveOptions) (archived, deleted int, err error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.ScanLimit <= 0 {
		opts.ScanLimit = 5000
	}
	now := m.now().UTC()
	standardCutoff := now.AddDate(0, 0, -opts.OlderThanDays)
	highConfCutoff := now.AddDate(0, 0, -opts.HighConfidenceDays)

	learnings, err := m.Warm.ScrollAll(ctx, opts.ScanLimit)
	if err != nil {
		return 0, 0, err
	}

	var batch []string
	flush := func() error {
		if len(batch) == 0 || !opts.DeleteAfterArchive {
			batch = nil
			return nil
		}
		if err := m.Warm.DeleteLearnings(ctx, batch...); err != nil {
			return err
		}
		deleted += len(batch)
		batch = nil
		return nil
	}

	for _, l := range learnings {
		if l.CreatedAt.IsZero() {
			continue
		}
		cutoff := standardCutoff
		if l.Category != "error" && l.Confidence >= opts.HighConfidenceThreshold {
			cutoff = highConfCutoff
		}
		if !l.CreatedAt.Before(cutoff) {
			continue
		}

		if _, err := m.Cold.ArchiveToCold(ctx, l, ""); err != nil {
			m.logger.Warn("archive failed, keeping learning in warm tier", "id", l.ID, "error", err)
			continue
		}
		archived++
		batch = append(batch, l.ID)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return archived, deleted, err
			}
		}
	}
	if err := flush(); err != nil {
		return archived, deleted, err
	}
	return archived, deleted, nil
}

// Flush promotes a finished task's traces to the warm tier (only when a
// VERIFY trace exists), runs the archival sweep, and requests a key/value
// snapshot. Returns counts per tier.
func (m *Manager) Flush(ctx context.Context, taskID string) (FlushCounts, error) {
	var counts FlushCounts

	if taskID != "" {
		verified, err := m.hasVerifyTrace(ctx, taskID)
		if err != nil {
			m.logger.Warn("trace promotion skipped", "task_id", taskID, "error", err)
		} else if verified {
			counts.Promoted = m.promoteTraces(ctx, taskID)
		}
	}

	archived, deleted, err := m.ArchiveOldWarm(ctx, DefaultArchiveOptions())
	if err != nil {
		return counts, fmt.Errorf("memory: flush archival sweep: %w", err)
	}
	counts.Archived = archived
	counts.Deleted = deleted

	if err := m.store.BgSave(ctx); err != nil {
		m.logger.Warn("bgsave failed", "error", err)
	}
	return counts, nil
}

func (m *Manager) hasVerifyTrace(ctx context.Context, taskID string) (bool, error) {
	_, err := m.Hot.GetTaskTrace(ctx, taskID, models.PhaseVerify)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// promoteTraces converts a task's hot traces into warm learnings. Traces
// that fail the quality gate are skipped; that is the gate doing its job.
func (m *Manager) promoteTraces(ctx context.Context, taskID string) int {
	traces, err := m.Hot.GetTaskTraces(ctx, taskID)
	if err != nil {
		m.logger.Warn("failed to read traces for promotion", "task_id", taskID, "error", err)
		return 0
	}

	promoted := 0
	for _, trace := range traces {
		l := models.NewLearning(traceContent(&trace), trace.Phase, "task_trace")
		l.TaskID = taskID
		l.Confidence = 0.6
		if _, err := m.Warm.StoreLearning(ctx, l, true); err != nil {
			if !errors.Is(err, ErrQualityRejected) {
				m.logger.Warn("trace promotion failed", "task_id", taskID, "phase", trace.Phase, "error", err)
			}
			continue
		}
		promoted++
	}
	return promoted
}

func traceContent(trace *models.TaskTrace) string {
	data, err := json.Marshal(trace.Data)
	if err != nil || string(data) == "null" {
		data = []byte("{}")
	}
	return fmt.Sprintf("Task %s reached %s: %s", trace.TaskID, trace.Phase, data)
}
