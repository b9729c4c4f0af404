// Package worktree defines the isolated-workspace domain entities and
// the conflict/merge-order analysis over them.
package worktree

import "time"

// BranchPrefix is prepended to spec names to form worktree branch names.
const BranchPrefix = "ff/"

// Worktree describes one isolated, branch-backed workspace bound to a task.
type Worktree struct {
	SpecName       string    `json:"spec_name"`
	TaskID         string    `json:"task_id"`
	Branch         string    `json:"branch"`
	BaseBranch     string    `json:"base_branch"`
	Path           string    `json:"path"`
	CommitsAhead   int       `json:"commits_ahead"`
	FilesChanged   int       `json:"files_changed"`
	Additions      int       `json:"additions"`
	Deletions      int       `json:"deletions"`
	DiskUsageMb    float64   `json:"disk_usage_mb"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// DaysSinceLastActivity returns whole days elapsed since the last commit,
// relative to now.
func (w *Worktree) DaysSinceLastActivity(now time.Time) int {
	if w.LastActivityAt.IsZero() {
		return 0
	}
	d := now.Sub(w.LastActivityAt)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// IsStale reports whether the worktree has had no activity for more than
// staleDays days.
func (w *Worktree) IsStale(now time.Time, staleDays int) bool {
	return w.DaysSinceLastActivity(now) > staleDays
}

// BranchName returns the deterministic branch name for a spec.
func BranchName(specName string) string {
	return BranchPrefix + specName
}

// HealthStatus aggregates worktree fleet health.
type HealthStatus struct {
	TotalCount       int     `json:"total_count"`
	StaleCount       int     `json:"stale_count"`
	TotalDiskUsageMb float64 `json:"total_disk_usage_mb"`
	WarningMessage   string  `json:"warning_message,omitempty"`
}

// CreateRequest holds the fields needed to allocate a worktree.
type CreateRequest struct {
	TaskID     string `json:"task_id"`
	SpecName   string `json:"spec_name"`
	BaseBranch string `json:"base_branch"`
}
