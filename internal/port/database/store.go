// Package database defines the metadata store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/ForgeFlow/internal/domain/credential"
	"github.com/Strob0t/ForgeFlow/internal/domain/staging"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
)

// Store is the port interface for all metadata persistence.
type Store interface {
	// Tasks
	ListTasks(ctx context.Context, projectID string) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	CreateTask(ctx context.Context, req task.CreateRequest) (*task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	UpdateTaskStatus(ctx context.Context, id string, status task.Status, reason task.ReviewReason) error
	SetTaskStuck(ctx context.Context, id string, stuck bool) error
	ArchiveTask(ctx context.Context, id string) error

	// Worktrees
	ListWorktrees(ctx context.Context, projectID string) ([]worktree.Worktree, error)
	GetWorktree(ctx context.Context, specName string) (*worktree.Worktree, error)
	GetWorktreeByTask(ctx context.Context, taskID string) (*worktree.Worktree, error)
	CreateWorktree(ctx context.Context, w *worktree.Worktree) error
	UpdateWorktreeStats(ctx context.Context, w *worktree.Worktree) error
	DeleteWorktree(ctx context.Context, specName string) error

	// Staged changes
	ListStagedChanges(ctx context.Context) ([]staging.StagedChange, error)
	UpsertStagedChange(ctx context.Context, c *staging.StagedChange) error
	DeleteStagedChange(ctx context.Context, taskID string) error
	ClearStagedChanges(ctx context.Context) error

	// Credential profiles
	ListProfiles(ctx context.Context) ([]credential.Profile, error)
	GetProfile(ctx context.Context, id string) (*credential.Profile, error)
	CreateProfile(ctx context.Context, p *credential.Profile, encryptedToken []byte) error
	SetActiveProfile(ctx context.Context, id string) error
	UpdateProfileQuota(ctx context.Context, id string, quota credential.Quota) error

	// Rate-limit events
	CreatePendingRateLimit(ctx context.Context, ev *credential.RateLimitEvent) error
	ListPendingRateLimits(ctx context.Context) ([]credential.RateLimitEvent, error)
	ResolveRateLimit(ctx context.Context, source, taskID string) error
}
