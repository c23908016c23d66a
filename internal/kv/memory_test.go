package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreSetGetTTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set error = %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired Get error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", "a", 0)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock", "b", 0)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v, want false", ok, err)
	}
	if v, _ := s.Get(ctx, "lock"); v != "a" {
		t.Errorf("value = %q, want a", v)
	}
}

func TestMemoryStoreHashOps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("HSet error = %v", err)
	}
	if v, err := s.HGet(ctx, "h", "a"); err != nil || v != "1" {
		t.Fatalf("HGet = %q, %v", v, err)
	}
	if _, err := s.HGet(ctx, "h", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing field error = %v", err)
	}

	n, err := s.HIncrBy(ctx, "h", "a", 5)
	if err != nil || n != 6 {
		t.Fatalf("HIncrBy = %d, %v", n, err)
	}
	f, err := s.HIncrByFloat(ctx, "h", "cost", 0.5)
	if err != nil || f != 0.5 {
		t.Fatalf("HIncrByFloat = %f, %v", f, err)
	}

	all, _ := s.HGetAll(ctx, "h")
	if len(all) != 3 {
		t.Errorf("HGetAll len = %d, want 3", len(all))
	}
}

func TestMemoryStoreListOps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.RPush(ctx, "l", "a", "b", "c", "d")
	s.LPush(ctx, "l", "z")

	got, _ := s.LRange(ctx, "l", 0, -1)
	want := []string{"z", "a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("LRange = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("LRange = %v, want %v", got, want)
		}
	}

	if err := s.LTrim(ctx, "l", 0, 2); err != nil {
		t.Fatalf("LTrim error = %v", err)
	}
	got, _ = s.LRange(ctx, "l", 0, -1)
	if len(got) != 3 || got[2] != "b" {
		t.Errorf("after LTrim = %v", got)
	}

	if err := s.LRem(ctx, "l", 0, "a"); err != nil {
		t.Fatalf("LRem error = %v", err)
	}
	got, _ = s.LRange(ctx, "l", 0, -1)
	if len(got) != 2 {
		t.Errorf("after LRem = %v", got)
	}
}

func TestMemoryStoreSetOps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.SAdd(ctx, "s", "x", "y", "x")
	members, _ := s.SMembers(ctx, "s")
	if len(members) != 2 {
		t.Fatalf("SMembers = %v", members)
	}
	s.SRem(ctx, "s", "x")
	members, _ = s.SMembers(ctx, "s")
	if len(members) != 1 || members[0] != "y" {
		t.Errorf("after SRem = %v", members)
	}
}

func TestMemoryStoreScan(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Set(ctx, "pai:hot:t1", "a", 0)
	s.Set(ctx, "pai:hot:t2", "b", 0)
	s.Set(ctx, "pai:costs:dev", "c", 0)

	keys, err := s.Scan(ctx, "pai:hot:*")
	if err != nil {
		t.Fatalf("Scan error = %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Scan = %v, want 2 keys", keys)
	}
}

func TestMemoryStoreExpireResetsTTL(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	s.Set(ctx, "k", "v", time.Minute)
	now = now.Add(50 * time.Second)
	if err := s.Expire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("Expire error = %v", err)
	}
	now = now.Add(50 * time.Second)
	if _, err := s.Get(ctx, "k"); err != nil {
		t.Errorf("Get after refreshed TTL error = %v", err)
	}
}
