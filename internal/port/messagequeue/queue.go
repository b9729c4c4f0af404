// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for NATS subjects used by ForgeFlow.
const (
	SubjectTaskStart    = "tasks.start"    // core → agent runner: launch an agent for a task
	SubjectTaskStop     = "tasks.stop"     // core → agent runner: terminate a task's agent
	SubjectTaskProgress = "tasks.progress" // agent → core: subtask progress events
	SubjectTaskOutput   = "tasks.output"   // agent → core: streaming output lines

	SubjectAgentHeartbeat = "agents.heartbeat" // agent → core: periodic liveness beacons

	SubjectRateLimit = "provider.ratelimit" // agent → core: raw provider throttle signals
	SubjectUsage     = "provider.usage"     // agent → core: per-profile quota consumption
)

// ProgressPayload is the wire format of a subtask progress event.
type ProgressPayload struct {
	TaskID   string           `json:"task_id"`
	Subtasks []SubtaskPayload `json:"subtasks"`
	Phase    string           `json:"phase,omitempty"`
	Current  int              `json:"current"`
	Total    int              `json:"total"`
}

// SubtaskPayload is one subtask's reported state.
type SubtaskPayload struct {
	ID     string `json:"id"`
	Title  string `json:"title,omitempty"`
	Status string `json:"status"`
}

// OutputPayload is the wire format of a streamed agent output line.
type OutputPayload struct {
	TaskID string `json:"task_id"`
	Line   string `json:"line"`
	Stream string `json:"stream,omitempty"` // "stdout" or "stderr"
}

// RateLimitPayload is the wire format of a provider throttle signal.
type RateLimitPayload struct {
	Source             string `json:"source"`
	TaskID             string `json:"task_id,omitempty"`
	ProfileID          string `json:"profile_id"`
	LimitType          string `json:"limit_type"`
	ResetTimeUnix      int64  `json:"reset_time_unix,omitempty"`
	SuggestedProfileID string `json:"suggested_profile_id,omitempty"`
	Proactive          bool   `json:"proactive"`
}

// UsagePayload is the wire format of a per-profile quota consumption report.
type UsagePayload struct {
	ProfileID     string `json:"profile_id"`
	Used          int64  `json:"used"`
	Limit         int64  `json:"limit"`
	ResetTimeUnix int64  `json:"reset_time_unix,omitempty"`
}
