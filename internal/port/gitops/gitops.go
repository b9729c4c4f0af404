// Package gitops defines the port for git worktree and staging
// operations. The core orchestrates at the level of "create workspace",
// "diff", "merge", "discard"; the adapter owns the underlying mechanics.
package gitops

import (
	"context"
	"time"
)

// Stats summarizes a worktree branch relative to its base.
type Stats struct {
	CommitsAhead   int
	FilesChanged   int
	Additions      int
	Deletions      int
	LastActivityAt time.Time
	DiskUsageMb    float64
}

// Client is the port interface for git CLI orchestration.
type Client interface {
	// AddWorktree creates a worktree at path on a new branch from baseBranch.
	AddWorktree(ctx context.Context, repoDir, path, branch, baseBranch string) error

	// RemoveWorktree force-removes a worktree and deletes its branch.
	RemoveWorktree(ctx context.Context, repoDir, path, branch string) error

	// Stats computes branch statistics for a worktree relative to baseBranch.
	Stats(ctx context.Context, worktreePath, baseBranch string) (*Stats, error)

	// ChangedFiles lists files changed on the worktree branch since it
	// diverged from baseBranch.
	ChangedFiles(ctx context.Context, worktreePath, baseBranch string) ([]string, error)

	// ShowFile reads a file's content from a branch. exists is false when
	// the file was deleted on that branch.
	ShowFile(ctx context.Context, repoDir, branch, file string) (content []byte, exists bool, err error)

	// StageFiles git-adds the given paths in repoDir.
	StageFiles(ctx context.Context, repoDir string, files []string) error

	// UnstageAll resets the index and restores the working tree for all
	// currently staged files, returning repoDir to its pre-stage state.
	UnstageAll(ctx context.Context, repoDir string) error

	// StagedFiles lists paths currently staged in repoDir's index.
	StagedFiles(ctx context.Context, repoDir string) ([]string, error)

	// Commit commits the current index with the given message and returns
	// the commit hash.
	Commit(ctx context.Context, repoDir, message string) (hash string, err error)

	// ResetIndex unstages everything without touching the working tree.
	ResetIndex(ctx context.Context, repoDir string) error
}
