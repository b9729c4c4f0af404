// Package staging defines the staged-change entities and the pure logic
// for commit message derivation and advisory review of staged content.
package staging

import "time"

// CommitMode selects how staged changes are grouped into commits.
type CommitMode string

const (
	ModeAll     CommitMode = "all"
	ModeByTask  CommitMode = "by_task"
	ModePartial CommitMode = "partial"
)

// Valid reports whether the mode is one of the supported commit modes.
func (m CommitMode) Valid() bool {
	switch m {
	case ModeAll, ModeByTask, ModePartial:
		return true
	}
	return false
}

// StagedChange records one worktree's diff moved into the staging area.
type StagedChange struct {
	TaskID      string    `json:"task_id"`
	SpecName    string    `json:"spec_name"`
	Files       []string  `json:"files"`
	MergeSource string    `json:"merge_source"`
	StagedAt    time.Time `json:"staged_at"`
}

// CommitRequest describes a commit operation over the staging area.
type CommitRequest struct {
	Mode          CommitMode `json:"mode"`
	Message       string     `json:"message,omitempty"`
	SelectedFiles []string   `json:"selected_files,omitempty"`
}

// CommitResult is the immutable outcome of one commit.
type CommitResult struct {
	Success        bool     `json:"success"`
	CommitHash     string   `json:"commit_hash,omitempty"`
	Message        string   `json:"message"`
	FilesCommitted []string `json:"files_committed"`
	Error          string   `json:"error,omitempty"`
}

// StageResult reports the outcome of staging one worktree.
type StageResult struct {
	Success          bool     `json:"success"`
	Staged           bool     `json:"staged"`
	Message          string   `json:"message"`
	FilesStaged      []string `json:"files_staged,omitempty"`
	ConflictFiles    []string `json:"conflict_files,omitempty"`
	SuggestedMessage string   `json:"suggested_commit_message,omitempty"`
}

// ReviewIssue is one finding from the advisory review pass.
type ReviewIssue struct {
	File       string `json:"file"`
	Line       int    `json:"line,omitempty"`
	Type       string `json:"type"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ReviewReport is the advisory output of an AI review over staged content.
// It never blocks or mutates staged state.
type ReviewReport struct {
	Summary     string        `json:"summary"`
	Issues      []ReviewIssue `json:"issues"`
	Suggestions []string      `json:"suggestions"`
}
