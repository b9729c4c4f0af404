package tiered_test

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/adapter/tiered"
)

// fakeTier counts Get calls so tests can tell which level served a hit.
type fakeTier struct {
	data map[string][]byte
	gets int
}

func newFakeTier() *fakeTier {
	return &fakeTier{data: make(map[string][]byte)}
}

func (f *fakeTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.gets++
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeTier) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.data[key] = value
	return nil
}

func (f *fakeTier) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

func newTiered() (*tiered.Cache, *fakeTier, *fakeTier) {
	l1 := newFakeTier()
	l2 := newFakeTier()
	return tiered.New(l1, l2, 5*time.Minute), l1, l2
}

func TestGet_L1HitSkipsL2(t *testing.T) {
	c, l1, l2 := newTiered()
	l1.data["worktree:stats:auth-flow"] = []byte(`{"files_changed":3}`)

	val, found, err := c.Get(context.Background(), "worktree:stats:auth-flow")
	if err != nil || !found {
		t.Fatalf("expected L1 hit, found=%v err=%v", found, err)
	}
	if string(val) != `{"files_changed":3}` {
		t.Fatalf("unexpected value %s", val)
	}
	if l2.gets != 0 {
		t.Fatalf("L2 was consulted %d times on an L1 hit", l2.gets)
	}
}

func TestGet_L2HitBackfillsL1(t *testing.T) {
	c, l1, l2 := newTiered()
	l2.data["worktree:stats:search"] = []byte(`{"additions":42}`)

	val, found, err := c.Get(context.Background(), "worktree:stats:search")
	if err != nil || !found {
		t.Fatalf("expected L2 hit, found=%v err=%v", found, err)
	}
	if string(val) != `{"additions":42}` {
		t.Fatalf("unexpected value %s", val)
	}

	backfilled, ok := l1.data["worktree:stats:search"]
	if !ok {
		t.Fatal("L2 hit was not backfilled into L1")
	}
	if string(backfilled) != `{"additions":42}` {
		t.Fatalf("backfilled wrong value %s", backfilled)
	}
}

func TestGet_MissOnBothTiers(t *testing.T) {
	c, l1, l2 := newTiered()

	_, found, err := c.Get(context.Background(), "worktree:stats:gone")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected a miss")
	}
	if l1.gets != 1 || l2.gets != 1 {
		t.Fatalf("expected one lookup per tier, got l1=%d l2=%d", l1.gets, l2.gets)
	}
}

func TestSet_WritesThroughBothTiers(t *testing.T) {
	c, l1, l2 := newTiered()

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Fatal("value missing from L1")
	}
	if _, ok := l2.data["k"]; !ok {
		t.Fatal("value missing from L2")
	}
}

func TestDelete_RemovesFromBothTiers(t *testing.T) {
	c, l1, l2 := newTiered()
	l1.data["k"] = []byte("v")
	l2.data["k"] = []byte("v")

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("value still in L1")
	}
	if _, ok := l2.data["k"]; ok {
		t.Fatal("value still in L2")
	}
}
