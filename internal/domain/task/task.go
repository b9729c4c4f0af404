// Package task defines the Task domain entity and its lifecycle rules.
package task

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusBacklog     Status = "backlog"
	StatusInProgress  Status = "in_progress"
	StatusAIReview    Status = "ai_review"
	StatusHumanReview Status = "human_review"
	StatusDone        Status = "done"
)

// SourceType identifies how a task was created.
type SourceType string

const (
	SourceAuto   SourceType = "auto"
	SourceManual SourceType = "manual"
)

// ReviewReason explains why a task entered human review.
type ReviewReason string

const (
	ReviewReasonCompleted ReviewReason = "completed"
	ReviewReasonErrors    ReviewReason = "errors"
)

// SubtaskStatus represents the state of a single plan step.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
)

// Subtask is one atomic step of a task's plan.
type Subtask struct {
	ID     string        `json:"id"`
	Title  string        `json:"title,omitempty"`
	Status SubtaskStatus `json:"status"`
}

// Progress tracks how far the agent has advanced through the plan.
type Progress struct {
	Phase   string `json:"phase,omitempty"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// Task represents a unit of agent work tracked through a review lifecycle.
type Task struct {
	ID           string       `json:"id"`
	ProjectID    string       `json:"project_id"`
	SpecID       string       `json:"spec_id"`
	Title        string       `json:"title"`
	Status       Status       `json:"status"`
	Source       SourceType   `json:"source"`
	Subtasks     []Subtask    `json:"subtasks,omitempty"`
	ReviewReason ReviewReason `json:"review_reason,omitempty"`
	Progress     Progress     `json:"progress"`
	IsStuck      bool         `json:"is_stuck"`
	ArchivedAt   *time.Time   `json:"archived_at,omitempty"`
	Version      int          `json:"version"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	ProjectID string     `json:"project_id"`
	SpecID    string     `json:"spec_id"`
	Title     string     `json:"title"`
	Source    SourceType `json:"source"`
}

// Derived is the status computed from a task's subtask set.
type Derived struct {
	Status       Status
	ReviewReason ReviewReason
}

// DeriveStatus computes the task status from its subtasks.
//
// Rules, in priority order:
//   - any failed subtask → human_review with reason "errors"
//   - all completed (non-empty set) → ai_review for auto tasks,
//     human_review with reason "completed" for manual tasks
//   - any in_progress or completed → in_progress
//   - otherwise the current status stands (returned unchanged)
func DeriveStatus(current Status, subtasks []Subtask, source SourceType) Derived {
	if len(subtasks) == 0 {
		return Derived{Status: current}
	}

	var failed, completed, active int
	for _, st := range subtasks {
		switch st.Status {
		case SubtaskFailed:
			failed++
		case SubtaskCompleted:
			completed++
		case SubtaskInProgress:
			active++
		}
	}

	switch {
	case failed > 0:
		return Derived{Status: StatusHumanReview, ReviewReason: ReviewReasonErrors}
	case completed == len(subtasks):
		if source == SourceManual {
			return Derived{Status: StatusHumanReview, ReviewReason: ReviewReasonCompleted}
		}
		return Derived{Status: StatusAIReview}
	case active > 0 || completed > 0:
		return Derived{Status: StatusInProgress}
	default:
		return Derived{Status: current}
	}
}

// Archived reports whether the task has been soft-archived.
func (t *Task) Archived() bool {
	return t.ArchivedAt != nil
}
