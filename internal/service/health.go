package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/config"
	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/port/agentproc"
	"github.com/Strob0t/ForgeFlow/internal/port/broadcast"
	"github.com/Strob0t/ForgeFlow/internal/port/database"
)

// HealthMonitor detects stuck tasks: status says in_progress but the
// bound agent process is not alive. Detection surfaces as the task's
// IsStuck flag, never as an error.
type HealthMonitor struct {
	store     database.Store
	runner    agentproc.Runner
	lifecycle *TaskLifecycleService
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	cfg       config.Health
	locks     *keyedLocks
	now       func() time.Time

	mu        sync.Mutex
	started   map[string]time.Time // taskID -> last observed start
	heartbeat map[string]time.Time // taskID -> last heartbeat
}

// NewHealthMonitor creates a HealthMonitor.
func NewHealthMonitor(
	store database.Store,
	runner agentproc.Runner,
	lifecycle *TaskLifecycleService,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
	cfg config.Health,
) *HealthMonitor {
	return &HealthMonitor{
		store:     store,
		runner:    runner,
		lifecycle: lifecycle,
		hub:       hub,
		metrics:   metrics,
		cfg:       cfg,
		locks:     newKeyedLocks(),
		now:       time.Now,
		started:   make(map[string]time.Time),
		heartbeat: make(map[string]time.Time),
	}
}

// RecoverOptions tunes stuck-task recovery.
type RecoverOptions struct {
	TargetStatus task.Status `json:"target_status,omitempty"`
	AutoRestart  bool        `json:"auto_restart,omitempty"`
}

// RecoverResult reports the outcome of a recovery call.
type RecoverResult struct {
	NewStatus     task.Status `json:"new_status"`
	Message       string      `json:"message"`
	AutoRestarted bool        `json:"auto_restarted,omitempty"`
}

// NoteStarted records a task start so the grace period is measured from
// the actual launch, not the last record write.
func (m *HealthMonitor) NoteStarted(taskID string) {
	m.mu.Lock()
	m.started[taskID] = m.now()
	m.mu.Unlock()
}

// HandleHeartbeat is the queue handler for agents.heartbeat. A fresh
// heartbeat counts as liveness even when the local process probe fails,
// which covers agents running outside this host's process table.
func (m *HealthMonitor) HandleHeartbeat(_ context.Context, _ string, data []byte) error {
	var hb struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &hb); err != nil {
		return fmt.Errorf("decode heartbeat: %w", err)
	}
	if hb.TaskID == "" {
		return domain.NewValidationError("task_id", "must not be empty")
	}
	m.mu.Lock()
	m.heartbeat[hb.TaskID] = m.now()
	m.mu.Unlock()
	return nil
}

// Run probes all in-progress tasks on a ticker until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckNow(ctx); err != nil {
				slog.Error("health check sweep", "error", err)
			}
		}
	}
}

// CheckNow probes every in-progress task once. Callers use it when they
// regain focus and want fresh state without waiting for the next tick.
func (m *HealthMonitor) CheckNow(ctx context.Context) error {
	tasks, err := m.store.ListTasks(ctx, "")
	if err != nil {
		return err
	}

	for i := range tasks {
		t := &tasks[i]
		if t.Status != task.StatusInProgress || t.Archived() {
			continue
		}
		if err := m.checkTask(ctx, t); err != nil {
			slog.Warn("health check task", "task_id", t.ID, "error", err)
		}
	}
	return nil
}

// checkTask flags or clears the stuck bit for one in-progress task.
func (m *HealthMonitor) checkTask(ctx context.Context, t *task.Task) error {
	if m.inGrace(t) {
		return nil
	}

	alive, err := m.runner.IsAlive(ctx, t.ID)
	if err != nil {
		return err
	}
	if !alive && m.recentHeartbeat(t.ID) {
		alive = true
	}

	if alive == !t.IsStuck {
		return nil
	}

	t.IsStuck = !alive
	if err := m.store.SetTaskStuck(ctx, t.ID, t.IsStuck); err != nil {
		return &domain.PersistenceError{Op: "set task stuck", Err: err}
	}

	if t.IsStuck {
		slog.Warn("task flagged stuck", "task_id", t.ID)
		if m.metrics != nil {
			m.metrics.TasksStuck.Add(ctx, 1)
		}
	}
	m.hub.BroadcastEvent(ctx, ws.EventTaskStuck, ws.TaskStuckEvent{
		TaskID: t.ID,
		Stuck:  t.IsStuck,
		Reason: "process liveness probe",
	})
	return nil
}

// RecoverStuckTask transitions a stuck task to the target status (backlog
// by default) and optionally restarts it. Safe to call concurrently for
// the same task: the second caller observes the already-resolved state
// and returns success without double-starting.
func (m *HealthMonitor) RecoverStuckTask(ctx context.Context, taskID string, opts RecoverOptions) (*RecoverResult, error) {
	unlock := m.locks.acquire(taskID)
	defer unlock()

	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	target := opts.TargetStatus
	if target == "" {
		target = task.StatusBacklog
	}

	// Recheck under the lock: a concurrent recovery may have finished,
	// possibly restarting the task already.
	if !t.IsStuck {
		if t.Status != task.StatusInProgress {
			return &RecoverResult{
				NewStatus: t.Status,
				Message:   "task already recovered",
			}, nil
		}
		if alive, err := m.runner.IsAlive(ctx, taskID); err == nil && alive {
			return &RecoverResult{
				NewStatus:     t.Status,
				Message:       "task already recovered and running",
				AutoRestarted: true,
			}, nil
		}
	}

	// Best effort: the process is presumed dead, but reap it if not.
	if err := m.runner.Stop(ctx, taskID); err != nil {
		slog.Debug("stop agent during recovery", "task_id", taskID, "error", err)
	}

	if err := m.store.SetTaskStuck(ctx, taskID, false); err != nil {
		return nil, &domain.PersistenceError{Op: "clear stuck flag", Err: err}
	}
	if err := m.store.UpdateTaskStatus(ctx, taskID, target, ""); err != nil {
		return nil, &domain.PersistenceError{Op: "recover task status", Err: err}
	}

	if m.metrics != nil {
		m.metrics.TasksRecovered.Add(ctx, 1)
	}
	m.hub.BroadcastEvent(ctx, ws.EventTaskStuck, ws.TaskStuckEvent{TaskID: taskID, Stuck: false})
	m.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:    taskID,
		ProjectID: t.ProjectID,
		Status:    string(target),
	})

	res := &RecoverResult{
		NewStatus: target,
		Message:   fmt.Sprintf("task recovered to %s", target),
	}

	if opts.AutoRestart {
		if err := m.lifecycle.Start(ctx, taskID, StartOptions{}); err != nil {
			res.Message = fmt.Sprintf("task recovered to %s but restart failed: %v", target, err)
			return res, nil
		}
		m.NoteStarted(taskID)
		res.AutoRestarted = true
		res.NewStatus = task.StatusInProgress
		res.Message = "task recovered and restarted"
	}

	slog.Info("stuck task recovered", "task_id", taskID, "new_status", res.NewStatus, "restarted", res.AutoRestarted)
	return res, nil
}

// inGrace reports whether the task is still inside the post-start grace
// period. A task never observed starting is graced from its last update.
func (m *HealthMonitor) inGrace(t *task.Task) bool {
	m.mu.Lock()
	startedAt, ok := m.started[t.ID]
	m.mu.Unlock()
	if !ok {
		startedAt = t.UpdatedAt
	}
	return m.now().Sub(startedAt) < m.cfg.GracePeriod
}

func (m *HealthMonitor) recentHeartbeat(taskID string) bool {
	m.mu.Lock()
	last, ok := m.heartbeat[taskID]
	m.mu.Unlock()
	return ok && m.now().Sub(last) < m.cfg.CheckInterval
}
