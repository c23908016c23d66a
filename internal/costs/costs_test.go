package costs

import (
	"context"
	"testing"

	"github.com/pai-platform/pai/internal/kv"
)

func TestTrackerAccumulates(t *testing.T) {
	store := kv.NewMemoryStore()
	tr := NewTracker(store, nil)

	tr.Track(Record{Agent: "developer", Model: "claude-sonnet-4-20250514", InputTokens: 100, OutputTokens: 50, Cost: 0.01})
	tr.Track(Record{Agent: "developer", Model: "claude-sonnet-4-20250514", InputTokens: 200, OutputTokens: 80, CachedTokens: 40, Cost: 0.02})
	tr.Close()

	totals, err := tr.Totals(context.Background(), "developer")
	if err != nil {
		t.Fatalf("Totals error = %v", err)
	}
	if totals["input_tokens"] != 300 {
		t.Errorf("input_tokens = %f, want 300", totals["input_tokens"])
	}
	if totals["output_tokens"] != 130 {
		t.Errorf("output_tokens = %f, want 130", totals["output_tokens"])
	}
	if totals["cached_tokens"] != 40 {
		t.Errorf("cached_tokens = %f, want 40", totals["cached_tokens"])
	}
	if totals["requests"] != 2 {
		t.Errorf("requests = %f, want 2", totals["requests"])
	}
	if totals["total_cost"] < 0.029 || totals["total_cost"] > 0.031 {
		t.Errorf("total_cost = %f, want ~0.03", totals["total_cost"])
	}
}

func TestTrackerIsolatesAgents(t *testing.T) {
	store := kv.NewMemoryStore()
	tr := NewTracker(store, nil)

	tr.Track(Record{Agent: "developer", InputTokens: 10})
	tr.Track(Record{Agent: "researcher", InputTokens: 20})
	tr.Close()

	dev, _ := tr.Totals(context.Background(), "developer")
	res, _ := tr.Totals(context.Background(), "researcher")
	if dev["input_tokens"] != 10 || res["input_tokens"] != 20 {
		t.Errorf("dev = %v, res = %v", dev, res)
	}
}
