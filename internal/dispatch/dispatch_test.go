package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/pkg/models"
)

// fakeAgent answers every task on its queue with a COMPLETED response.
func fakeAgent(t *testing.T, ctx context.Context, b bus.Bus, agentType string) {
	t.Helper()
	taskCh, cancel, err := b.Subscribe(ctx, bus.TaskTopic(agentType))
	if err != nil {
		t.Fatalf("fake agent subscribe error = %v", err)
	}
	go func() {
		defer cancel()
		for payload := range taskCh {
			var req models.TaskRequest
			if err := json.Unmarshal(payload, &req); err != nil {
				continue
			}
			resp := models.TaskResponse{
				TaskID:    req.ID,
				Status:    models.TaskStatusCompleted,
				AgentType: agentType,
			}
			_ = b.Publish(ctx, bus.ResponseTopic(req.ID), resp)
		}
	}()
}

func TestDispatchRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memBus := bus.NewMemoryBus()
	d := New(memBus, kv.NewMemoryStore(), 0, 0, nil, nil)
	fakeAgent(t, ctx, memBus, "developer")

	out, err := d.Dispatch(ctx, &models.TaskRequest{ID: "t1", AgentType: "developer"})
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}

	select {
	case resp := <-out:
		if resp == nil || resp.Status != models.TaskStatusCompleted || resp.TaskID != "t1" {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
	}

	deadline := time.Now().Add(time.Second)
	for d.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := d.Active(); got != 0 {
		t.Errorf("active after completion = %d, want 0", got)
	}
}

func TestDispatchAssignsID(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	memBus := bus.NewMemoryBus()
	d := New(memBus, kv.NewMemoryStore(), 0, 0, nil, nil)
	fakeAgent(t, ctx, memBus, "developer")

	req := &models.TaskRequest{AgentType: "developer"}
	out, err := d.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}
	if req.ID == "" {
		t.Fatal("no id assigned")
	}
	select {
	case resp := <-out:
		if resp == nil || resp.TaskID != req.ID {
			t.Errorf("response = %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no response delivered")
	}
}

func TestDispatchDeduplicates(t *testing.T) {
	ctx := context.Background()
	d := New(bus.NewMemoryBus(), kv.NewMemoryStore(), 0, 0, nil, nil)

	if _, err := d.Dispatch(ctx, &models.TaskRequest{ID: "dup", AgentType: "developer"}); err != nil {
		t.Fatalf("first dispatch error = %v", err)
	}
	_, err := d.Dispatch(ctx, &models.TaskRequest{ID: "dup", AgentType: "developer"})
	if !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("error = %v, want ErrDuplicateTask", err)
	}
}

func TestDispatchAdmissionControl(t *testing.T) {
	ctx := context.Background()
	d := New(bus.NewMemoryBus(), kv.NewMemoryStore(), 2, 0, nil, nil)

	for i := 0; i < 2; i++ {
		req := &models.TaskRequest{ID: "t" + string(rune('a'+i)), AgentType: "developer"}
		if _, err := d.Dispatch(ctx, req); err != nil {
			t.Fatalf("dispatch %d error = %v", i, err)
		}
	}
	_, err := d.Dispatch(ctx, &models.TaskRequest{ID: "tc", AgentType: "developer"})
	if !errors.Is(err, ErrTooManyTasks) {
		t.Errorf("error = %v, want ErrTooManyTasks", err)
	}
	if got := d.Active(); got != 2 {
		t.Errorf("active = %d, want 2", got)
	}
}

func TestDispatchRequiresAgentType(t *testing.T) {
	d := New(bus.NewMemoryBus(), kv.NewMemoryStore(), 0, 0, nil, nil)
	if _, err := d.Dispatch(context.Background(), &models.TaskRequest{ID: "x"}); err == nil {
		t.Error("dispatch without agent type accepted")
	}
}
