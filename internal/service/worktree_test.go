package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
	"github.com/Strob0t/ForgeFlow/internal/port/gitops"
)

func newTestWorktrees(store *mockStore, git *mockGit) (*WorktreeService, *mockHub, *mockCache) {
	hub := &mockHub{}
	c := newMockCache()
	return NewWorktreeService(store, git, c, hub, testWorktreeConfig()), hub, c
}

func TestCreateWorktree(t *testing.T) {
	store := &mockStore{}
	svc, _, _ := newTestWorktrees(store, newMockGit())

	w, err := svc.Create(context.Background(), worktree.CreateRequest{
		TaskID:   "t1",
		SpecName: "auth-flow",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Branch != "ff/auth-flow" {
		t.Fatalf("expected deterministic branch, got %q", w.Branch)
	}
	if w.BaseBranch != "main" {
		t.Fatalf("expected default base branch, got %q", w.BaseBranch)
	}
	if _, err := store.GetWorktree(context.Background(), "auth-flow"); err != nil {
		t.Fatalf("expected worktree persisted: %v", err)
	}
}

func TestCreateWorktreeRejectsDuplicateSpec(t *testing.T) {
	store := &mockStore{
		worktrees: []worktree.Worktree{{SpecName: "auth-flow", TaskID: "t1"}},
	}
	svc, _, _ := newTestWorktrees(store, newMockGit())

	_, err := svc.Create(context.Background(), worktree.CreateRequest{TaskID: "t2", SpecName: "auth-flow"})
	if !errors.Is(err, domain.ErrWorktreeExists) {
		t.Fatalf("expected ErrWorktreeExists, got %v", err)
	}
}

func TestCreateWorktreeValidatesSpecName(t *testing.T) {
	svc, _, _ := newTestWorktrees(&mockStore{}, newMockGit())

	var verr *domain.ValidationError
	for _, name := range []string{"", "a/b", "has space"} {
		_, err := svc.Create(context.Background(), worktree.CreateRequest{TaskID: "t1", SpecName: name})
		if !errors.As(err, &verr) {
			t.Fatalf("spec name %q: expected ValidationError, got %v", name, err)
		}
	}
}

func TestListRefreshesStatsAndCountsStale(t *testing.T) {
	now := time.Now()
	store := &mockStore{
		worktrees: []worktree.Worktree{
			{SpecName: "old", TaskID: "t1", Path: "w/old", LastActivityAt: now.AddDate(0, 0, -9)},
			{SpecName: "fresh", TaskID: "t2", Path: "w/fresh", LastActivityAt: now.AddDate(0, 0, -1)},
		},
	}
	git := newMockGit()
	git.stats = gitops.Stats{CommitsAhead: 2, FilesChanged: 3, Additions: 10, Deletions: 4, DiskUsageMb: 1.5}
	svc, _, _ := newTestWorktrees(store, git)

	res, err := svc.List(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Worktrees) != 2 {
		t.Fatalf("expected 2 worktrees, got %d", len(res.Worktrees))
	}
	if res.StaleCount != 1 {
		t.Fatalf("expected 1 stale worktree, got %d", res.StaleCount)
	}
	if res.Worktrees[0].CommitsAhead != 2 || res.Worktrees[0].FilesChanged != 3 {
		t.Fatalf("expected refreshed stats, got %+v", res.Worktrees[0])
	}
}

func TestHealthAggregatesAndWarns(t *testing.T) {
	store := &mockStore{}
	for i := 0; i < 11; i++ {
		store.worktrees = append(store.worktrees, worktree.Worktree{
			SpecName:       string(rune('a' + i)),
			TaskID:         string(rune('a' + i)),
			LastActivityAt: time.Now(),
		})
	}
	git := newMockGit()
	git.stats = gitops.Stats{DiskUsageMb: 2}
	svc, _, _ := newTestWorktrees(store, git)

	h, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.TotalCount != 11 {
		t.Fatalf("expected 11, got %d", h.TotalCount)
	}
	if h.TotalDiskUsageMb != 22 {
		t.Fatalf("expected 22 MB, got %f", h.TotalDiskUsageMb)
	}
	if h.WarningMessage == "" {
		t.Fatal("expected warning past max worktree count")
	}
}

func TestDiscardWorktree(t *testing.T) {
	store := &mockStore{
		worktrees: []worktree.Worktree{{SpecName: "auth-flow", TaskID: "t1", Path: "w/auth-flow", Branch: "ff/auth-flow"}},
	}
	git := newMockGit()
	svc, _, c := newTestWorktrees(store, git)
	_ = c.Set(context.Background(), statsCacheKey("auth-flow"), []byte("{}"), time.Minute)

	if err := svc.Discard(context.Background(), "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := store.GetWorktree(context.Background(), "auth-flow"); !domain.IsNotFound(err) {
		t.Fatalf("expected worktree gone, got %v", err)
	}
	if len(git.removedPaths) != 1 {
		t.Fatalf("expected git removal, got %v", git.removedPaths)
	}
	if _, ok, _ := c.Get(context.Background(), statsCacheKey("auth-flow")); ok {
		t.Fatal("expected stats cache evicted")
	}
}

func TestDiscardUnknownTaskIsNotFound(t *testing.T) {
	svc, _, _ := newTestWorktrees(&mockStore{}, newMockGit())

	if err := svc.Discard(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestConflictRisksAcrossWorktrees(t *testing.T) {
	store := &mockStore{
		worktrees: []worktree.Worktree{
			{SpecName: "a", TaskID: "t1", Path: "w/a"},
			{SpecName: "b", TaskID: "t2", Path: "w/b"},
		},
	}
	git := newMockGit()
	git.changed["w/a"] = []string{"main.go", "util.go"}
	git.changed["w/b"] = []string{"util.go", "other.go"}
	svc, _, _ := newTestWorktrees(store, git)

	risks, err := svc.ConflictRisks(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(risks) != 1 {
		t.Fatalf("expected 1 risk pair, got %d", len(risks))
	}
	if risks[0].RiskLevel != worktree.RiskMedium {
		t.Fatalf("expected medium risk, got %s", risks[0].RiskLevel)
	}
	if len(risks[0].ConflictingFiles) != 1 || risks[0].ConflictingFiles[0] != "util.go" {
		t.Fatalf("unexpected conflicting files: %v", risks[0].ConflictingFiles)
	}
}

func TestMergeOrderIsPermutation(t *testing.T) {
	store := &mockStore{
		worktrees: []worktree.Worktree{
			{SpecName: "a", TaskID: "t1", Path: "w/a"},
			{SpecName: "b", TaskID: "t2", Path: "w/b"},
			{SpecName: "c", TaskID: "t3", Path: "w/c"},
		},
	}
	git := newMockGit()
	git.changed["w/a"] = []string{"x.go"}
	git.changed["w/b"] = []string{"x.go", "y.go"}
	git.changed["w/c"] = []string{"z.go"}
	svc, _, _ := newTestWorktrees(store, git)

	order, err := svc.MergeOrder(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order.Order) != 3 {
		t.Fatalf("expected complete permutation, got %v", order.Order)
	}
	seen := map[string]bool{}
	for _, n := range order.Order {
		if seen[n] {
			t.Fatalf("duplicate %s in order %v", n, order.Order)
		}
		seen[n] = true
	}
	if order.Reason == "" {
		t.Fatal("expected a human-readable reason")
	}
}

func TestSweepStaleDiscardsOnlyStale(t *testing.T) {
	now := time.Now()
	store := &mockStore{
		worktrees: []worktree.Worktree{
			{SpecName: "old", TaskID: "t1", Path: "w/old", LastActivityAt: now.AddDate(0, 0, -30)},
			{SpecName: "fresh", TaskID: "t2", Path: "w/fresh", LastActivityAt: now},
		},
	}
	git := newMockGit()
	svc, _, _ := newTestWorktrees(store, git)

	removed, err := svc.SweepStale(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, err := store.GetWorktree(context.Background(), "fresh"); err != nil {
		t.Fatalf("fresh worktree must survive: %v", err)
	}
}
