package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
	"github.com/Strob0t/ForgeFlow/internal/port/broadcast"
	"github.com/Strob0t/ForgeFlow/internal/port/cache"
	"github.com/Strob0t/ForgeFlow/internal/port/database"
	"github.com/Strob0t/ForgeFlow/internal/port/gitops"
)

// WorktreeService manages isolated, branch-backed workspaces: creation,
// statistics, staleness, conflict analysis, and discard.
type WorktreeService struct {
	store database.Store
	git   gitops.Client
	cache cache.Cache
	hub   broadcast.Broadcaster
	cfg   config.Worktree
	now   func() time.Time
}

// NewWorktreeService creates a WorktreeService.
func NewWorktreeService(store database.Store, git gitops.Client, c cache.Cache, hub broadcast.Broadcaster, cfg config.Worktree) *WorktreeService {
	return &WorktreeService{
		store: store,
		git:   git,
		cache: c,
		hub:   hub,
		cfg:   cfg,
		now:   time.Now,
	}
}

// ListResult is the aggregate returned by List.
type ListResult struct {
	Worktrees  []worktree.Worktree `json:"worktrees"`
	StaleCount int                 `json:"stale_count"`
}

// Create allocates a worktree for the task on a deterministic branch from
// the base branch. Returns ErrWorktreeExists when one is already active
// for the spec.
func (s *WorktreeService) Create(ctx context.Context, req worktree.CreateRequest) (*worktree.Worktree, error) {
	if req.SpecName == "" {
		return nil, domain.NewValidationError("spec_name", "must not be empty")
	}
	if strings.ContainsAny(req.SpecName, "/\\ ") {
		return nil, domain.NewValidationError("spec_name", "must not contain path separators or spaces")
	}

	ctx, span := otel.StartWorktreeSpan(ctx, "worktree.create", req.SpecName)
	defer span.End()

	if _, err := s.store.GetWorktree(ctx, req.SpecName); err == nil {
		return nil, fmt.Errorf("%s: %w", req.SpecName, domain.ErrWorktreeExists)
	} else if !domain.IsNotFound(err) {
		return nil, err
	}

	base := req.BaseBranch
	if base == "" {
		base = s.cfg.BaseBranch
	}

	w := &worktree.Worktree{
		SpecName:   req.SpecName,
		TaskID:     req.TaskID,
		Branch:     worktree.BranchName(req.SpecName),
		BaseBranch: base,
		Path:       filepath.Join(s.cfg.RepoDir, s.cfg.Dir, req.SpecName),
		CreatedAt:  s.now(),
	}

	if err := s.git.AddWorktree(ctx, s.cfg.RepoDir, w.Path, w.Branch, base); err != nil {
		return nil, fmt.Errorf("create worktree %s: %w", req.SpecName, err)
	}

	if err := s.store.CreateWorktree(ctx, w); err != nil {
		// Roll the filesystem back so the registry stays authoritative.
		if rmErr := s.git.RemoveWorktree(ctx, s.cfg.RepoDir, w.Path, w.Branch); rmErr != nil {
			slog.Error("rollback worktree after persist failure", "spec", req.SpecName, "error", rmErr)
		}
		return nil, &domain.PersistenceError{Op: "create worktree", Err: err}
	}

	s.hub.BroadcastEvent(ctx, ws.EventWorktreeUpdated, ws.WorktreeUpdatedEvent{
		SpecName: w.SpecName,
		TaskID:   w.TaskID,
		Action:   "created",
	})

	slog.Info("worktree created", "spec", w.SpecName, "branch", w.Branch, "base", base)
	return w, nil
}

// Get returns the worktree for a spec with freshly computed stats.
func (s *WorktreeService) Get(ctx context.Context, specName string) (*worktree.Worktree, error) {
	w, err := s.store.GetWorktree(ctx, specName)
	if err != nil {
		return nil, err
	}
	if err := s.refreshStats(ctx, w); err != nil {
		slog.Warn("refresh worktree stats", "spec", specName, "error", err)
	}
	return w, nil
}

// GetByTask returns the worktree bound to a task.
func (s *WorktreeService) GetByTask(ctx context.Context, taskID string) (*worktree.Worktree, error) {
	return s.store.GetWorktreeByTask(ctx, taskID)
}

// List returns all worktrees with refreshed stats and the stale count.
func (s *WorktreeService) List(ctx context.Context, projectID string) (*ListResult, error) {
	trees, err := s.store.ListWorktrees(ctx, projectID)
	if err != nil {
		return nil, err
	}

	res := &ListResult{Worktrees: make([]worktree.Worktree, 0, len(trees))}
	now := s.now()
	for i := range trees {
		if err := s.refreshStats(ctx, &trees[i]); err != nil {
			slog.Warn("refresh worktree stats", "spec", trees[i].SpecName, "error", err)
		}
		if trees[i].IsStale(now, s.cfg.StaleDays) {
			res.StaleCount++
		}
		res.Worktrees = append(res.Worktrees, trees[i])
	}
	return res, nil
}

// Health aggregates fleet-level worktree health.
func (s *WorktreeService) Health(ctx context.Context) (*worktree.HealthStatus, error) {
	res, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	h := &worktree.HealthStatus{
		TotalCount: len(res.Worktrees),
		StaleCount: res.StaleCount,
	}
	for _, w := range res.Worktrees {
		h.TotalDiskUsageMb += w.DiskUsageMb
	}
	if h.TotalCount > s.cfg.MaxWarning {
		h.WarningMessage = fmt.Sprintf("%d worktrees active (recommended max %d); consider merging or discarding stale ones", h.TotalCount, s.cfg.MaxWarning)
	}
	return h, nil
}

// Discard irreversibly deletes the worktree bound to a task, including
// all uncommitted changes.
func (s *WorktreeService) Discard(ctx context.Context, taskID string) error {
	w, err := s.store.GetWorktreeByTask(ctx, taskID)
	if err != nil {
		return err
	}
	return s.discard(ctx, w)
}

// DiscardBySpec deletes a worktree addressed by spec name.
func (s *WorktreeService) DiscardBySpec(ctx context.Context, specName string) error {
	w, err := s.store.GetWorktree(ctx, specName)
	if err != nil {
		return err
	}
	return s.discard(ctx, w)
}

func (s *WorktreeService) discard(ctx context.Context, w *worktree.Worktree) error {
	ctx, span := otel.StartWorktreeSpan(ctx, "worktree.discard", w.SpecName)
	defer span.End()

	if err := s.git.RemoveWorktree(ctx, s.cfg.RepoDir, w.Path, w.Branch); err != nil {
		return fmt.Errorf("remove worktree %s: %w", w.SpecName, err)
	}
	if err := s.store.DeleteWorktree(ctx, w.SpecName); err != nil {
		return &domain.PersistenceError{Op: "delete worktree", Err: err}
	}
	if err := s.cache.Delete(ctx, statsCacheKey(w.SpecName)); err != nil {
		slog.Debug("evict worktree stats cache", "spec", w.SpecName, "error", err)
	}

	s.hub.BroadcastEvent(ctx, ws.EventWorktreeUpdated, ws.WorktreeUpdatedEvent{
		SpecName: w.SpecName,
		TaskID:   w.TaskID,
		Action:   "discarded",
	})

	slog.Info("worktree discarded", "spec", w.SpecName, "branch", w.Branch)
	return nil
}

// ConflictRisks computes pairwise conflict risk across all active worktrees.
func (s *WorktreeService) ConflictRisks(ctx context.Context) ([]worktree.ConflictRisk, error) {
	sets, err := s.changeSets(ctx)
	if err != nil {
		return nil, err
	}
	return worktree.ConflictRisks(sets), nil
}

// MergeOrder suggests an order in which to merge all active worktrees.
func (s *WorktreeService) MergeOrder(ctx context.Context) (*worktree.MergeOrder, error) {
	sets, err := s.changeSets(ctx)
	if err != nil {
		return nil, err
	}
	order := worktree.SuggestMergeOrder(sets)
	return &order, nil
}

// SweepStale discards every worktree past the staleness threshold and
// returns how many were removed.
func (s *WorktreeService) SweepStale(ctx context.Context) (int, error) {
	trees, err := s.store.ListWorktrees(ctx, "")
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for i := range trees {
		if err := s.refreshStats(ctx, &trees[i]); err != nil {
			continue
		}
		if !trees[i].IsStale(now, s.cfg.StaleDays) {
			continue
		}
		if err := s.discard(ctx, &trees[i]); err != nil {
			slog.Warn("sweep stale worktree", "spec", trees[i].SpecName, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// RunStaleSweep periodically discards stale worktrees until ctx is done.
func (s *WorktreeService) RunStaleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepStale(ctx); err != nil {
				slog.Error("stale worktree sweep", "error", err)
			} else if n > 0 {
				slog.Info("stale worktrees removed", "count", n)
			}
		}
	}
}

// changeSets builds the analyzer input for every active worktree.
func (s *WorktreeService) changeSets(ctx context.Context) ([]worktree.ChangeSet, error) {
	trees, err := s.store.ListWorktrees(ctx, "")
	if err != nil {
		return nil, err
	}

	sets := make([]worktree.ChangeSet, 0, len(trees))
	for i := range trees {
		w := &trees[i]
		files, err := s.git.ChangedFiles(ctx, w.Path, w.BaseBranch)
		if err != nil {
			return nil, fmt.Errorf("changed files for %s: %w", w.SpecName, err)
		}
		if err := s.refreshStats(ctx, w); err != nil {
			slog.Warn("refresh worktree stats", "spec", w.SpecName, "error", err)
		}
		sets = append(sets, worktree.ChangeSet{
			SpecName:       w.SpecName,
			Files:          files,
			LastActivityAt: w.LastActivityAt,
		})
	}
	return sets, nil
}

// refreshStats fills w with branch statistics, served from the tiered
// cache when fresh. Git stats are expensive (four subprocess calls plus a
// disk walk), so short-TTL caching keeps list endpoints cheap.
func (s *WorktreeService) refreshStats(ctx context.Context, w *worktree.Worktree) error {
	key := statsCacheKey(w.SpecName)

	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var stats gitops.Stats
		if err := json.Unmarshal(data, &stats); err == nil {
			applyStats(w, &stats)
			return nil
		}
	}

	stats, err := s.git.Stats(ctx, w.Path, w.BaseBranch)
	if err != nil {
		return err
	}
	applyStats(w, stats)

	if err := s.store.UpdateWorktreeStats(ctx, w); err != nil {
		slog.Warn("persist worktree stats", "spec", w.SpecName, "error", err)
	}

	if data, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(ctx, key, data, s.cfg.StatsCacheTTL); err != nil {
			slog.Debug("cache worktree stats", "spec", w.SpecName, "error", err)
		}
	}
	return nil
}

func applyStats(w *worktree.Worktree, stats *gitops.Stats) {
	w.CommitsAhead = stats.CommitsAhead
	w.FilesChanged = stats.FilesChanged
	w.Additions = stats.Additions
	w.Deletions = stats.Deletions
	w.DiskUsageMb = stats.DiskUsageMb
	if !stats.LastActivityAt.IsZero() {
		w.LastActivityAt = stats.LastActivityAt
	}
}

func statsCacheKey(specName string) string {
	return "worktree:stats:" + specName
}
