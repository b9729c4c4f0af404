// Package agentproc implements the agentproc.Runner port by spawning
// local agent processes with os/exec.
package agentproc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/port/agentproc"
)

const stopGracePeriod = 5 * time.Second

// proc tracks one spawned agent process. done is closed by the reaper
// goroutine once Wait returns, so liveness checks never touch the Cmd's
// post-Wait state concurrently with the reaper.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// alive reports whether the process is still running.
func (p *proc) alive() bool {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	select {
	case <-p.done:
		return false // reaped
	default:
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// LocalRunner launches one agent subprocess per task on the local host.
type LocalRunner struct {
	command string   // agent binary
	args    []string // base args; task-specific flags are appended

	mu    sync.Mutex
	procs map[string]*proc
}

// NewLocalRunner creates a runner that spawns command for each task.
func NewLocalRunner(command string, args []string) *LocalRunner {
	return &LocalRunner{
		command: command,
		args:    args,
		procs:   make(map[string]*proc),
	}
}

// Start launches the agent process for a task. Starting a task that
// already has a live process is a no-op.
func (r *LocalRunner) Start(ctx context.Context, req agentproc.StartRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.procs[req.TaskID]; ok && p.alive() {
		return nil
	}

	args := append([]string{}, r.args...)
	args = append(args,
		"--task-id", req.TaskID,
		"--spec", req.SpecID,
		"--workdir", req.WorktreePath,
	)
	if req.ProfileID != "" {
		args = append(args, "--profile", req.ProfileID)
	}

	cmd := exec.Command(r.command, args...) //nolint:gosec // command comes from config
	cmd.Dir = req.WorktreePath
	if err := cmd.Start(); err != nil {
		return &domain.ProcessError{TaskID: req.TaskID, Err: fmt.Errorf("start agent: %w", err)}
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}

	// Reap the process so it never becomes a zombie.
	go func() {
		err := cmd.Wait()
		close(p.done)
		if err != nil {
			slog.Info("agent process exited", "task_id", req.TaskID, "error", err)
		}
	}()

	r.procs[req.TaskID] = p
	slog.Info("agent process started", "task_id", req.TaskID, "pid", cmd.Process.Pid)
	_ = ctx
	return nil
}

// Stop terminates the agent process for a task. SIGTERM first, SIGKILL
// after the grace period. Stopping a task with no live process is a no-op.
func (r *LocalRunner) Stop(ctx context.Context, taskID string) error {
	r.mu.Lock()
	p, ok := r.procs[taskID]
	delete(r.procs, taskID)
	r.mu.Unlock()

	if !ok || !p.alive() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return &domain.ProcessError{TaskID: taskID, Err: fmt.Errorf("signal agent: %w", err)}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	case <-time.After(stopGracePeriod):
		_ = p.cmd.Process.Kill()
		slog.Warn("agent process killed after grace period", "task_id", taskID)
		return nil
	}
}

// IsAlive reports whether the task's agent process is currently running.
func (r *LocalRunner) IsAlive(_ context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	p, ok := r.procs[taskID]
	r.mu.Unlock()

	if !ok {
		return false, nil
	}
	return p.alive(), nil
}
