// Package gitcli implements the gitops.Client port using local git CLI commands.
package gitcli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/git"
	"github.com/Strob0t/ForgeFlow/internal/port/gitops"
)

// Client runs git CLI commands through a shared concurrency pool.
type Client struct {
	pool    *git.Pool
	metrics *otel.Metrics
}

// NewClient creates a Client that limits concurrent git operations via
// pool. metrics may be nil.
func NewClient(pool *git.Pool, metrics *otel.Metrics) *Client {
	return &Client{pool: pool, metrics: metrics}
}

// run executes one git command and records its duration, labeled by
// subcommand.
func (c *Client) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := c.runRaw(ctx, dir, args...)
	return string(out), err
}

func (c *Client) runRaw(ctx context.Context, dir string, args ...string) ([]byte, error) {
	start := time.Now()
	out, err := runGitRaw(ctx, dir, args...)
	if c.metrics != nil && len(args) > 0 {
		c.metrics.GitCmdDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("cmd", args[0])))
	}
	return out, err
}

// AddWorktree creates a worktree at path on a new branch from baseBranch.
func (c *Client) AddWorktree(ctx context.Context, repoDir, path, branch, baseBranch string) error {
	return c.pool.Run(ctx, func() error {
		if _, err := c.run(ctx, repoDir, "worktree", "add", "-b", branch, path, baseBranch); err != nil {
			return fmt.Errorf("gitcli: worktree add: %w", err)
		}
		return nil
	})
}

// RemoveWorktree force-removes a worktree and deletes its branch.
// Branch deletion failure is not fatal: the worktree is already gone.
func (c *Client) RemoveWorktree(ctx context.Context, repoDir, path, branch string) error {
	return c.pool.Run(ctx, func() error {
		if _, err := c.run(ctx, repoDir, "worktree", "remove", "--force", path); err != nil {
			return fmt.Errorf("gitcli: worktree remove: %w", err)
		}
		_, _ = c.run(ctx, repoDir, "branch", "-D", branch)
		return nil
	})
}

// Stats computes branch statistics for a worktree relative to baseBranch.
func (c *Client) Stats(ctx context.Context, worktreePath, baseBranch string) (*gitops.Stats, error) {
	var stats gitops.Stats
	err := c.pool.Run(ctx, func() error {
		ahead, err := c.run(ctx, worktreePath, "rev-list", "--count", baseBranch+"..HEAD")
		if err != nil {
			return fmt.Errorf("gitcli: rev-list count: %w", err)
		}
		stats.CommitsAhead, _ = strconv.Atoi(strings.TrimSpace(ahead))

		shortstat, err := c.run(ctx, worktreePath, "diff", "--shortstat", baseBranch+"...HEAD")
		if err != nil {
			return fmt.Errorf("gitcli: diff shortstat: %w", err)
		}
		stats.FilesChanged, stats.Additions, stats.Deletions = parseShortstat(shortstat)

		when, err := c.run(ctx, worktreePath, "log", "-1", "--format=%cI")
		if err == nil {
			if t, perr := time.Parse(time.RFC3339, strings.TrimSpace(when)); perr == nil {
				stats.LastActivityAt = t
			}
		}

		stats.DiskUsageMb = diskUsageMb(worktreePath)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ChangedFiles lists files changed on the worktree branch since it
// diverged from baseBranch.
func (c *Client) ChangedFiles(ctx context.Context, worktreePath, baseBranch string) ([]string, error) {
	var files []string
	err := c.pool.Run(ctx, func() error {
		out, err := c.run(ctx, worktreePath, "diff", "--name-only", baseBranch+"...HEAD")
		if err != nil {
			// Fallback to the two-dot form for detached or rebased branches.
			out, err = c.run(ctx, worktreePath, "diff", "--name-only", baseBranch, "HEAD")
			if err != nil {
				return fmt.Errorf("gitcli: diff name-only: %w", err)
			}
		}
		files = splitLines(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// ShowFile reads a file's content from a branch.
func (c *Client) ShowFile(ctx context.Context, repoDir, branch, file string) ([]byte, bool, error) {
	var content []byte
	exists := true
	err := c.pool.Run(ctx, func() error {
		out, err := c.runRaw(ctx, repoDir, "show", branch+":"+file)
		if err != nil {
			if strings.Contains(err.Error(), "does not exist") ||
				strings.Contains(err.Error(), "exists on disk, but not in") {
				exists = false
				return nil
			}
			return fmt.Errorf("gitcli: show %s:%s: %w", branch, file, err)
		}
		content = out
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return content, exists, nil
}

// StageFiles git-adds the given paths in repoDir.
func (c *Client) StageFiles(ctx context.Context, repoDir string, files []string) error {
	if len(files) == 0 {
		return nil
	}
	return c.pool.Run(ctx, func() error {
		args := append([]string{"add", "--"}, files...)
		if _, err := c.run(ctx, repoDir, args...); err != nil {
			return fmt.Errorf("gitcli: add: %w", err)
		}
		return nil
	})
}

// UnstageAll resets the index and restores the working tree for all
// currently staged files. Paths that exist in HEAD are checked out;
// paths introduced by staging (added, copied, rename targets) have no
// HEAD version to restore and are removed from the worktree instead.
func (c *Client) UnstageAll(ctx context.Context, repoDir string) error {
	return c.pool.Run(ctx, func() error {
		staged, err := c.run(ctx, repoDir, "diff", "--cached", "--name-status")
		if err != nil {
			return fmt.Errorf("gitcli: list staged: %w", err)
		}
		restore, remove := splitByHeadPresence(staged)
		if len(restore) == 0 && len(remove) == 0 {
			return nil
		}

		if _, err := c.run(ctx, repoDir, "reset", "HEAD", "--"); err != nil {
			return fmt.Errorf("gitcli: reset: %w", err)
		}
		if len(restore) > 0 {
			args := append([]string{"checkout", "HEAD", "--"}, restore...)
			if _, err := c.run(ctx, repoDir, args...); err != nil {
				return fmt.Errorf("gitcli: checkout restore: %w", err)
			}
		}
		for _, f := range remove {
			if err := os.Remove(filepath.Join(repoDir, f)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("gitcli: remove added file %s: %w", f, err)
			}
		}
		return nil
	})
}

// splitByHeadPresence parses `git diff --cached --name-status` output
// into paths restorable from HEAD and paths absent from HEAD.
func splitByHeadPresence(nameStatus string) (restore, remove []string) {
	for _, line := range splitLines(nameStatus) {
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		status := fields[0]
		switch {
		case strings.HasPrefix(status, "A"), strings.HasPrefix(status, "C"):
			remove = append(remove, fields[len(fields)-1])
		case strings.HasPrefix(status, "R") && len(fields) >= 3:
			restore = append(restore, fields[1])
			remove = append(remove, fields[2])
		default:
			restore = append(restore, fields[1])
		}
	}
	return restore, remove
}

// StagedFiles lists paths currently staged in repoDir's index.
func (c *Client) StagedFiles(ctx context.Context, repoDir string) ([]string, error) {
	var files []string
	err := c.pool.Run(ctx, func() error {
		out, err := c.run(ctx, repoDir, "diff", "--cached", "--name-only")
		if err != nil {
			return fmt.Errorf("gitcli: diff cached: %w", err)
		}
		files = splitLines(out)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Commit commits the current index and returns the commit hash.
func (c *Client) Commit(ctx context.Context, repoDir, message string) (string, error) {
	var hash string
	err := c.pool.Run(ctx, func() error {
		if _, err := c.run(ctx, repoDir, "commit", "-m", message); err != nil {
			return fmt.Errorf("gitcli: commit: %w", err)
		}
		out, err := c.run(ctx, repoDir, "rev-parse", "HEAD")
		if err != nil {
			return fmt.Errorf("gitcli: rev-parse: %w", err)
		}
		hash = strings.TrimSpace(out)
		return nil
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// ResetIndex unstages everything without touching the working tree.
func (c *Client) ResetIndex(ctx context.Context, repoDir string) error {
	return c.pool.Run(ctx, func() error {
		if _, err := c.run(ctx, repoDir, "reset", "HEAD", "--"); err != nil {
			return fmt.Errorf("gitcli: reset index: %w", err)
		}
		return nil
	})
}

// parseShortstat extracts counts from git diff --shortstat output, e.g.
// " 3 files changed, 42 insertions(+), 7 deletions(-)".
func parseShortstat(out string) (files, additions, deletions int) {
	for _, part := range strings.Split(strings.TrimSpace(out), ",") {
		part = strings.TrimSpace(part)
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			files = n
		case strings.HasPrefix(fields[1], "insertion"):
			additions = n
		case strings.HasPrefix(fields[1], "deletion"):
			deletions = n
		}
	}
	return files, additions, deletions
}

func splitLines(out string) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func diskUsageMb(path string) float64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // best-effort walk
		}
		if info, ierr := d.Info(); ierr == nil {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / (1024 * 1024)
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := runGitRaw(ctx, dir, args...)
	return string(out), err
}

func runGitRaw(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}
