package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "agent:responses")
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	defer cancel()

	if err := b.Publish(ctx, "agent:responses", map[string]string{"task_id": "t1"}); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	select {
	case raw := <-ch:
		var got map[string]string
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["task_id"] != "t1" {
			t.Errorf("task_id = %q, want t1", got["task_id"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryBusTopicIsolation(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "agent:heartbeats")
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	defer cancel()

	if err := b.Publish(ctx, "agent:status", "other"); err != nil {
		t.Fatalf("Publish error = %v", err)
	}

	select {
	case raw := <-ch:
		t.Errorf("unexpected delivery across topics: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusCancelStopsDelivery(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "agent:responses")
	if err != nil {
		t.Fatalf("Subscribe error = %v", err)
	}
	cancel()
	// Double cancel must be safe.
	cancel()

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}

	if err := b.Publish(ctx, "agent:responses", "late"); err != nil {
		t.Fatalf("Publish after cancel error = %v", err)
	}
}

func TestMemoryBusPublishAfterClose(t *testing.T) {
	b := NewMemoryBus()
	b.Close()
	if err := b.Publish(context.Background(), "x", "y"); err == nil {
		t.Error("expected error publishing to closed bus")
	}
}

func TestTopicHelpers(t *testing.T) {
	if got := TaskTopic("developer"); got != "agent:developer:tasks" {
		t.Errorf("TaskTopic = %q", got)
	}
	if got := ProgressTopic("t1"); got != "task:t1:progress" {
		t.Errorf("ProgressTopic = %q", got)
	}
	if got := ResponseTopic("t1"); got != "task:t1:response" {
		t.Errorf("ResponseTopic = %q", got)
	}
}
