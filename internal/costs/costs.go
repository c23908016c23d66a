// Package costs tracks per-agent LLM spend in the key/value store. Records
// are consumed asynchronously so the agent loop never waits on accounting.
package costs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/pai-platform/pai/internal/kv"
)

// Record is one LLM call's usage attributed to an agent.
type Record struct {
	Agent        string
	Model        string
	InputTokens  int
	OutputTokens int
	CachedTokens int
	Cost         float64
}

// Tracker consumes usage records on a channel and accumulates them into
// per-agent hashes at pai:costs:<agent>.
type Tracker struct {
	store  kv.Store
	logger *slog.Logger

	records chan Record
	done    chan struct{}
	once    sync.Once
}

// NewTracker builds a tracker and starts its consumer goroutine.
func NewTracker(store kv.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:   store,
		logger:  logger,
		records: make(chan Record, 256),
		done:    make(chan struct{}),
	}
	go t.consume()
	return t
}

// Track enqueues a record without blocking; records are dropped with a
// warning if the queue is full.
func (t *Tracker) Track(rec Record) {
	select {
	case t.records <- rec:
	default:
		t.logger.Warn("cost record dropped, queue full", "agent", rec.Agent)
	}
}

// Close drains the queue and stops the consumer.
func (t *Tracker) Close() {
	t.once.Do(func() {
		close(t.records)
		<-t.done
	})
}

func (t *Tracker) consume() {
	defer close(t.done)
	ctx := context.Background()
	for rec := range t.records {
		key := costsKey(rec.Agent)
		if _, err := t.store.HIncrBy(ctx, key, "input_tokens", int64(rec.InputTokens)); err != nil {
			t.logger.Warn("cost write failed", "agent", rec.Agent, "error", err)
			continue
		}
		if _, err := t.store.HIncrBy(ctx, key, "output_tokens", int64(rec.OutputTokens)); err != nil {
			t.logger.Warn("cost write failed", "agent", rec.Agent, "error", err)
		}
		if rec.CachedTokens > 0 {
			if _, err := t.store.HIncrBy(ctx, key, "cached_tokens", int64(rec.CachedTokens)); err != nil {
				t.logger.Warn("cost write failed", "agent", rec.Agent, "error", err)
			}
		}
		if _, err := t.store.HIncrBy(ctx, key, "requests", 1); err != nil {
			t.logger.Warn("cost write failed", "agent", rec.Agent, "error", err)
		}
		if rec.Cost > 0 {
			if _, err := t.store.HIncrByFloat(ctx, key, "total_cost", rec.Cost); err != nil {
				t.logger.Warn("cost write failed", "agent", rec.Agent, "error", err)
			}
		}
	}
}

// Totals reads the accumulated usage for an agent.
func (t *Tracker) Totals(ctx context.Context, agent string) (map[string]float64, error) {
	fields, err := t.store.HGetAll(ctx, costsKey(agent))
	if err != nil {
		return nil, fmt.Errorf("costs: read totals for %s: %w", agent, err)
	}
	out := make(map[string]float64, len(fields))
	for k, v := range fields {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[k] = f
	}
	return out, nil
}

func costsKey(agent string) string {
	return "pai:costs:" + agent
}
