package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/staging"
	"github.com/Strob0t/ForgeFlow/internal/port/broadcast"
	"github.com/Strob0t/ForgeFlow/internal/port/database"
	"github.com/Strob0t/ForgeFlow/internal/port/gitops"
)

// StagingService coordinates the shared staging area: moving worktree
// diffs into it, committing them in one of three modes, and discarding
// them wholesale. Stage, commit, and discard are mutually exclusive; a
// concurrent second operation is rejected with ErrStagingBusy rather
// than interleaved.
type StagingService struct {
	store     database.Store
	git       gitops.Client
	worktrees *WorktreeService
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	cfg       config.Staging
	repoDir   string
	mu        sync.Mutex
	now       func() time.Time
}

// NewStagingService creates a StagingService. repoDir is the shared
// repository root that acts as the staging area.
func NewStagingService(
	store database.Store,
	git gitops.Client,
	worktrees *WorktreeService,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Staging,
	repoDir string,
) *StagingService {
	return &StagingService{
		store:     store,
		git:       git,
		worktrees: worktrees,
		hub:       hub,
		metrics:   metrics,
		cfg:       cfg,
		repoDir:   repoDir,
		now:       time.Now,
	}
}

// StageWorktree merges the worktree diff of a task into the staging area.
// On conflict the result carries the conflicting files and the worktree
// is left untouched.
func (s *StagingService) StageWorktree(ctx context.Context, taskID string) (*staging.StageResult, error) {
	if !s.mu.TryLock() {
		return nil, domain.ErrStagingBusy
	}
	defer s.mu.Unlock()

	started := s.now()
	ctx, span := otel.StartStagingSpan(ctx, "staging.stage", 0)
	defer span.End()

	w, err := s.store.GetWorktreeByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	files, err := s.git.ChangedFiles(ctx, w.Path, w.BaseBranch)
	if err != nil {
		return nil, fmt.Errorf("diff worktree %s: %w", w.SpecName, err)
	}
	if len(files) == 0 {
		return &staging.StageResult{
			Success: true,
			Staged:  false,
			Message: fmt.Sprintf("worktree %s has no changes to stage", w.SpecName),
		}, nil
	}

	conflicts, err := s.conflictingFiles(ctx, taskID, files)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		return &staging.StageResult{
			Success:       false,
			Staged:        false,
			Message:       fmt.Sprintf("%d files already staged by another task", len(conflicts)),
			ConflictFiles: conflicts,
		}, nil
	}

	// Copy branch content into the staging area file by file. Deletions
	// on the branch delete in the staging area too.
	for _, f := range files {
		content, exists, err := s.git.ShowFile(ctx, s.repoDir, w.Branch, f)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", f, w.Branch, err)
		}
		dst := filepath.Join(s.repoDir, f)
		if !exists {
			if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("remove %s: %w", f, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir for %s: %w", f, err)
		}
		if err := os.WriteFile(dst, content, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f, err)
		}
	}

	if err := s.git.StageFiles(ctx, s.repoDir, files); err != nil {
		return nil, fmt.Errorf("stage files: %w", err)
	}

	change := &staging.StagedChange{
		TaskID:      taskID,
		SpecName:    w.SpecName,
		Files:       files,
		MergeSource: w.Branch,
		StagedAt:    s.now(),
	}
	if err := s.store.UpsertStagedChange(ctx, change); err != nil {
		return nil, &domain.PersistenceError{Op: "record staged change", Err: err}
	}

	if s.cfg.AutoCleanupAfterStage {
		if err := s.worktrees.Discard(ctx, taskID); err != nil {
			slog.Warn("cleanup worktree after stage", "task_id", taskID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.StageOps.Add(ctx, 1)
		s.metrics.StageDuration.Record(ctx, s.now().Sub(started).Seconds())
	}
	s.hub.BroadcastEvent(ctx, ws.EventStagingStaged, ws.StagingEvent{
		TaskID:   taskID,
		SpecName: w.SpecName,
		Files:    files,
	})

	slog.Info("worktree staged", "task_id", taskID, "spec", w.SpecName, "files", len(files))
	return &staging.StageResult{
		Success:          true,
		Staged:           true,
		Message:          fmt.Sprintf("staged %d files from %s", len(files), w.SpecName),
		FilesStaged:      files,
		SuggestedMessage: staging.TaskCommitMessage(*change),
	}, nil
}

// StagedChanges lists all currently staged task groups.
func (s *StagingService) StagedChanges(ctx context.Context) ([]staging.StagedChange, error) {
	return s.store.ListStagedChanges(ctx)
}

// Commit lands staged changes per the requested mode. mode=all returns
// one result, mode=by_task one per staged task, mode=partial one result
// covering only the selected files while the rest stay staged.
func (s *StagingService) Commit(ctx context.Context, req staging.CommitRequest) ([]staging.CommitResult, error) {
	if !req.Mode.Valid() {
		return nil, domain.NewValidationError("mode", fmt.Sprintf("unknown commit mode %q", req.Mode))
	}
	if !s.mu.TryLock() {
		return nil, domain.ErrStagingBusy
	}
	defer s.mu.Unlock()

	changes, err := s.store.ListStagedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, domain.NewValidationError("staging", "nothing is staged")
	}

	ctx, span := otel.StartStagingSpan(ctx, "staging.commit", len(changes))
	defer span.End()

	var results []staging.CommitResult
	switch req.Mode {
	case staging.ModeAll:
		results, err = s.commitAll(ctx, req, changes)
	case staging.ModeByTask:
		results, err = s.commitByTask(ctx, changes)
	case staging.ModePartial:
		results, err = s.commitPartial(ctx, req, changes)
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CommitOps.Add(ctx, int64(len(results)))
	}
	for _, r := range results {
		s.hub.BroadcastEvent(ctx, ws.EventStagingCommitted, ws.StagingEvent{
			Files:      r.FilesCommitted,
			CommitHash: r.CommitHash,
		})
	}
	return results, nil
}

func (s *StagingService) commitAll(ctx context.Context, req staging.CommitRequest, changes []staging.StagedChange) ([]staging.CommitResult, error) {
	msg := req.Message
	if msg == "" {
		msg = staging.GenerateCommitMessage(staging.ModeAll, changes)
	}

	hash, err := s.git.Commit(ctx, s.repoDir, msg)
	if err != nil {
		return []staging.CommitResult{{Success: false, Message: msg, Error: err.Error()}}, nil
	}
	if err := s.store.ClearStagedChanges(ctx); err != nil {
		return nil, &domain.PersistenceError{Op: "clear staged changes", Err: err}
	}

	var files []string
	for _, c := range changes {
		files = append(files, c.Files...)
	}
	slog.Info("staged changes committed", "mode", "all", "hash", hash, "files", len(files))
	return []staging.CommitResult{{
		Success:        true,
		CommitHash:     hash,
		Message:        msg,
		FilesCommitted: files,
	}}, nil
}

func (s *StagingService) commitByTask(ctx context.Context, changes []staging.StagedChange) ([]staging.CommitResult, error) {
	// The index currently holds every staged file. Rebuild it per task so
	// each group lands as its own commit.
	if err := s.git.ResetIndex(ctx, s.repoDir); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	results := make([]staging.CommitResult, 0, len(changes))
	for _, c := range changes {
		msg := staging.TaskCommitMessage(c)
		if err := s.git.StageFiles(ctx, s.repoDir, c.Files); err != nil {
			results = append(results, staging.CommitResult{Success: false, Message: msg, Error: err.Error()})
			continue
		}
		hash, err := s.git.Commit(ctx, s.repoDir, msg)
		if err != nil {
			results = append(results, staging.CommitResult{Success: false, Message: msg, Error: err.Error()})
			continue
		}
		if err := s.store.DeleteStagedChange(ctx, c.TaskID); err != nil {
			return nil, &domain.PersistenceError{Op: "delete staged change", Err: err}
		}
		results = append(results, staging.CommitResult{
			Success:        true,
			CommitHash:     hash,
			Message:        msg,
			FilesCommitted: c.Files,
		})
	}
	slog.Info("staged changes committed", "mode", "by_task", "commits", len(results))
	return results, nil
}

func (s *StagingService) commitPartial(ctx context.Context, req staging.CommitRequest, changes []staging.StagedChange) ([]staging.CommitResult, error) {
	if len(req.SelectedFiles) == 0 {
		return nil, domain.NewValidationError("selected_files", "must not be empty for partial commit")
	}

	staged := make(map[string]bool)
	for _, c := range changes {
		for _, f := range c.Files {
			staged[f] = true
		}
	}
	for _, f := range req.SelectedFiles {
		if !staged[f] {
			return nil, domain.NewValidationError("selected_files", fmt.Sprintf("%s is not staged", f))
		}
	}

	msg := req.Message
	if msg == "" {
		msg = staging.GenerateCommitMessage(staging.ModePartial, changes)
	}

	if err := s.git.ResetIndex(ctx, s.repoDir); err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}
	if err := s.git.StageFiles(ctx, s.repoDir, req.SelectedFiles); err != nil {
		return nil, fmt.Errorf("stage selected files: %w", err)
	}
	hash, err := s.git.Commit(ctx, s.repoDir, msg)
	if err != nil {
		return []staging.CommitResult{{Success: false, Message: msg, Error: err.Error()}}, nil
	}

	committed := make(map[string]bool, len(req.SelectedFiles))
	for _, f := range req.SelectedFiles {
		committed[f] = true
	}

	// Unselected files remain staged: put them back in the index and
	// shrink the recorded groups.
	var remaining []string
	for i := range changes {
		c := &changes[i]
		var keep []string
		for _, f := range c.Files {
			if !committed[f] {
				keep = append(keep, f)
			}
		}
		if len(keep) == 0 {
			if err := s.store.DeleteStagedChange(ctx, c.TaskID); err != nil {
				return nil, &domain.PersistenceError{Op: "delete staged change", Err: err}
			}
			continue
		}
		c.Files = keep
		if err := s.store.UpsertStagedChange(ctx, c); err != nil {
			return nil, &domain.PersistenceError{Op: "update staged change", Err: err}
		}
		remaining = append(remaining, keep...)
	}
	if len(remaining) > 0 {
		if err := s.git.StageFiles(ctx, s.repoDir, remaining); err != nil {
			return nil, fmt.Errorf("restage remaining files: %w", err)
		}
	}

	slog.Info("staged changes committed", "mode", "partial", "hash", hash, "files", len(req.SelectedFiles), "remaining", len(remaining))
	return []staging.CommitResult{{
		Success:        true,
		CommitHash:     hash,
		Message:        msg,
		FilesCommitted: req.SelectedFiles,
	}}, nil
}

// Discard atomically reverts the whole staging area to its pre-stage
// state. Partial discard is not supported.
func (s *StagingService) Discard(ctx context.Context) error {
	if !s.mu.TryLock() {
		return domain.ErrStagingBusy
	}
	defer s.mu.Unlock()

	files, err := s.git.StagedFiles(ctx, s.repoDir)
	if err != nil {
		return fmt.Errorf("list staged files: %w", err)
	}
	if err := s.git.UnstageAll(ctx, s.repoDir); err != nil {
		return fmt.Errorf("unstage all: %w", err)
	}
	if err := s.store.ClearStagedChanges(ctx); err != nil {
		return &domain.PersistenceError{Op: "clear staged changes", Err: err}
	}

	s.hub.BroadcastEvent(ctx, ws.EventStagingDiscarded, ws.StagingEvent{Files: files})
	slog.Info("staging area discarded", "files", len(files))
	return nil
}

// AIReview runs an advisory pass over staged content. It never blocks or
// mutates staged state.
func (s *StagingService) AIReview(ctx context.Context) (*staging.ReviewReport, error) {
	changes, err := s.store.ListStagedChanges(ctx)
	if err != nil {
		return nil, err
	}

	var contents []staging.FileContent
	for _, c := range changes {
		for _, f := range c.Files {
			data, err := os.ReadFile(filepath.Join(s.repoDir, f))
			if err != nil {
				// Deleted-in-stage files have nothing to scan.
				continue
			}
			contents = append(contents, staging.FileContent{Path: f, Content: string(data)})
		}
	}

	report := staging.Review(changes, contents)
	return &report, nil
}

// CommitMessage derives a proposed commit message from staged content.
// Purely a suggestion, never auto-applied.
func (s *StagingService) CommitMessage(ctx context.Context, mode staging.CommitMode) (string, error) {
	if !mode.Valid() {
		return "", domain.NewValidationError("mode", fmt.Sprintf("unknown commit mode %q", mode))
	}
	changes, err := s.store.ListStagedChanges(ctx)
	if err != nil {
		return "", err
	}
	return staging.GenerateCommitMessage(mode, changes), nil
}

// conflictingFiles returns the subset of files already staged by a
// different task.
func (s *StagingService) conflictingFiles(ctx context.Context, taskID string, files []string) ([]string, error) {
	changes, err := s.store.ListStagedChanges(ctx)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]string)
	for _, c := range changes {
		if c.TaskID == taskID {
			continue
		}
		for _, f := range c.Files {
			owned[f] = c.TaskID
		}
	}

	var conflicts []string
	for _, f := range files {
		if _, ok := owned[f]; ok {
			conflicts = append(conflicts, f)
		}
	}
	return conflicts, nil
}
