package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/pkg/models"
)

const coldTimestampLayout = "20060102_150405"

// ColdTier is the append-only on-disk archive. Files live under
// <root>/Learning/<PHASE>/<YYYYMMDD_HHMMSS>_<category>.json; the filename
// timestamp is authoritative for cleanup.
type ColdTier struct {
	root    string
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewColdTier builds the cold tier rooted at root.
func NewColdTier(root string, logger *slog.Logger, metrics *observability.Metrics) *ColdTier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ColdTier{root: root, logger: logger, metrics: metrics, now: time.Now}
}

type archivedLearning struct {
	models.Learning
	Summary    string    `json:"summary,omitempty"`
	ArchivedAt time.Time `json:"archived_at"`
}

// ArchiveToCold writes a learning to the archive and returns the file path.
func (c *ColdTier) ArchiveToCold(_ context.Context, l *models.Learning, summary string) (string, error) {
	phase := string(l.Phase)
	if phase == "" {
		phase = string(models.PhaseLearn)
	}
	dir := filepath.Join(c.root, "Learning", phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("memory: create archive dir: %w", err)
	}

	record := archivedLearning{
		Learning:   *l,
		Summary:    summary,
		ArchivedAt: c.now().UTC(),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return "", fmt.Errorf("memory: marshal archive record: %w", err)
	}

	base := fmt.Sprintf("%s_%s", c.now().UTC().Format(coldTimestampLayout), sanitizeCategory(l.Category))
	path := filepath.Join(dir, base+".json")
	// Same-second archives of the same category get a numeric suffix; the
	// archive is append-only.
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d.json", base, i))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("memory: write archive file: %w", err)
	}
	if c.metrics != nil {
		c.metrics.MemoryOps.WithLabelValues("cold", "archive").Inc()
	}
	return path, nil
}

// CleanupColdStorage deletes archive files whose filename timestamp is older
// than the cutoff. Returns the number of files removed.
func (c *ColdTier) CleanupColdStorage(_ context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		olderThanDays = 365
	}
	cutoff := c.now().UTC().AddDate(0, 0, -olderThanDays)

	removed := 0
	base := filepath.Join(c.root, "Learning")
	for _, phase := range models.Phases {
		dir := filepath.Join(base, string(phase))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return removed, fmt.Errorf("memory: read archive dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			ts, ok := filenameTimestamp(entry.Name())
			if !ok {
				c.logger.Warn("skipping archive file with unparseable name", "file", entry.Name())
				continue
			}
			if ts.Before(cutoff) {
				if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
					c.logger.Warn("failed to remove archive file", "file", entry.Name(), "error", err)
					continue
				}
				removed++
			}
		}
	}
	return removed, nil
}

// filenameTimestamp parses the authoritative timestamp prefix of an archive
// filename.
func filenameTimestamp(name string) (time.Time, bool) {
	if len(name) < len(coldTimestampLayout) {
		return time.Time{}, false
	}
	ts, err := time.Parse(coldTimestampLayout, name[:len(coldTimestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func sanitizeCategory(category string) string {
	if category == "" {
		return "general"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, category)
}
