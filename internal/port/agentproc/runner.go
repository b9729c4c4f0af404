// Package agentproc defines the port for the external coding-agent
// process bound to a task. The actual agent is opaque to the core: it is
// started, stopped, and polled for liveness, nothing more.
package agentproc

import "context"

// StartRequest carries what the runner needs to launch an agent.
type StartRequest struct {
	TaskID       string
	SpecID       string
	WorktreePath string
	ProfileID    string
}

// Runner manages external agent processes, one per task.
type Runner interface {
	// Start launches the agent process for a task. Starting a task that
	// already has a live process is a no-op.
	Start(ctx context.Context, req StartRequest) error

	// Stop terminates the agent process for a task. Stopping a task with
	// no live process is a no-op.
	Stop(ctx context.Context, taskID string) error

	// IsAlive reports whether the task's agent process is currently running.
	IsAlive(ctx context.Context, taskID string) (bool, error)
}
