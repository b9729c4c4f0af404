package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventTaskStatus   = "task.status"
	EventTaskStuck    = "task.stuck"
	EventTaskProgress = "task.progress"
	EventTaskOutput   = "task.output"

	EventWorktreeUpdated = "worktree.updated"

	EventStagingStaged    = "staging.staged"
	EventStagingCommitted = "staging.committed"
	EventStagingDiscarded = "staging.discarded"

	EventFailoverSwap = "failover.swap"
)

// TaskStatusEvent is broadcast when a task's lifecycle status changes.
type TaskStatusEvent struct {
	TaskID       string `json:"task_id"`
	ProjectID    string `json:"project_id,omitempty"`
	Status       string `json:"status"`
	ReviewReason string `json:"review_reason,omitempty"`
}

// TaskStuckEvent is broadcast when the health monitor flags or clears a
// stuck task.
type TaskStuckEvent struct {
	TaskID string `json:"task_id"`
	Stuck  bool   `json:"stuck"`
	Reason string `json:"reason,omitempty"`
}

// TaskProgressEvent is broadcast as the agent advances through its plan.
type TaskProgressEvent struct {
	TaskID  string `json:"task_id"`
	Phase   string `json:"phase,omitempty"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

// TaskOutputEvent is broadcast when a task produces streaming output.
type TaskOutputEvent struct {
	TaskID string `json:"task_id"`
	Line   string `json:"line"`
	Stream string `json:"stream"` // "stdout" or "stderr"
}

// WorktreeUpdatedEvent is broadcast when a worktree is created, refreshed,
// or discarded.
type WorktreeUpdatedEvent struct {
	SpecName string `json:"spec_name"`
	TaskID   string `json:"task_id,omitempty"`
	Action   string `json:"action"` // "created", "refreshed", "discarded"
}

// StagingEvent is broadcast on stage, commit, and discard operations.
type StagingEvent struct {
	TaskID     string   `json:"task_id,omitempty"`
	SpecName   string   `json:"spec_name,omitempty"`
	Files      []string `json:"files,omitempty"`
	CommitHash string   `json:"commit_hash,omitempty"`
}

// FailoverSwapEvent is broadcast when the active credential profile changes.
type FailoverSwapEvent struct {
	FromProfileID string `json:"from_profile_id"`
	ToProfileID   string `json:"to_profile_id"`
	Kind          string `json:"kind"`
	TaskID        string `json:"task_id,omitempty"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
