package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/ForgeFlow/internal/adapter/otel"
	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/domain"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
	"github.com/Strob0t/ForgeFlow/internal/port/agentproc"
	"github.com/Strob0t/ForgeFlow/internal/port/broadcast"
	"github.com/Strob0t/ForgeFlow/internal/port/database"
	"github.com/Strob0t/ForgeFlow/internal/port/messagequeue"
)

// TaskLifecycleService owns task records and the lifecycle state machine.
// All writes to one task are serialized through a per-task lock; writes to
// different tasks proceed independently.
type TaskLifecycleService struct {
	store     database.Store
	queue     messagequeue.Queue
	runner    agentproc.Runner
	worktrees *WorktreeService
	hub       broadcast.Broadcaster
	metrics   *otel.Metrics
	locks     *keyedLocks
}

// NewTaskLifecycleService creates a TaskLifecycleService.
func NewTaskLifecycleService(
	store database.Store,
	queue messagequeue.Queue,
	runner agentproc.Runner,
	worktrees *WorktreeService,
	hub broadcast.Broadcaster,
	metrics *otel.Metrics,
) *TaskLifecycleService {
	return &TaskLifecycleService{
		store:     store,
		queue:     queue,
		runner:    runner,
		worktrees: worktrees,
		hub:       hub,
		metrics:   metrics,
		locks:     newKeyedLocks(),
	}
}

// StartOptions tunes how a task is started.
type StartOptions struct {
	ProfileID string `json:"profile_id,omitempty"`
}

// startPayload is published on tasks.start for the agent runner side.
type startPayload struct {
	TaskID       string `json:"task_id"`
	SpecID       string `json:"spec_id"`
	WorktreePath string `json:"worktree_path"`
	ProfileID    string `json:"profile_id,omitempty"`
}

// List returns all tasks for a project.
func (s *TaskLifecycleService) List(ctx context.Context, projectID string) ([]task.Task, error) {
	return s.store.ListTasks(ctx, projectID)
}

// Get returns a task by ID.
func (s *TaskLifecycleService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, id)
}

// Create validates and persists a new task in backlog.
func (s *TaskLifecycleService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if req.SpecID == "" {
		return nil, domain.NewValidationError("spec_id", "must not be empty")
	}
	if req.Title == "" {
		return nil, domain.NewValidationError("title", "must not be empty")
	}
	if req.Source == "" {
		req.Source = task.SourceAuto
	}

	t, err := s.store.CreateTask(ctx, req)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "create task", Err: err}
	}
	return t, nil
}

// Start allocates (or reuses) the task's worktree, launches the external
// agent process, and moves the task to in_progress.
func (s *TaskLifecycleService) Start(ctx context.Context, taskID string, opts StartOptions) error {
	unlock := s.locks.acquire(taskID)
	defer unlock()

	ctx, span := otel.StartTaskSpan(ctx, "task.start", taskID)
	defer span.End()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Archived() {
		return domain.NewValidationError("task_id", "task is archived")
	}

	w, err := s.worktrees.GetByTask(ctx, taskID)
	if domain.IsNotFound(err) {
		w, err = s.worktrees.Create(ctx, worktree.CreateRequest{TaskID: t.ID, SpecName: t.SpecID})
	}
	if err != nil {
		return err
	}

	if err := s.runner.Start(ctx, agentproc.StartRequest{
		TaskID:       t.ID,
		SpecID:       t.SpecID,
		WorktreePath: w.Path,
		ProfileID:    opts.ProfileID,
	}); err != nil {
		return &domain.ProcessError{TaskID: t.ID, Err: err}
	}

	if err := s.transition(ctx, t, task.StatusInProgress, ""); err != nil {
		// The process is already up. Stop it so state and reality agree.
		if stopErr := s.runner.Stop(ctx, t.ID); stopErr != nil {
			slog.Error("stop agent after failed transition", "task_id", t.ID, "error", stopErr)
		}
		return err
	}

	s.publish(ctx, messagequeue.SubjectTaskStart, startPayload{
		TaskID:       t.ID,
		SpecID:       t.SpecID,
		WorktreePath: w.Path,
		ProfileID:    opts.ProfileID,
	})

	slog.Info("task started", "task_id", t.ID, "spec_id", t.SpecID, "worktree", w.Path)
	return nil
}

// Stop terminates the task's agent process, resets execution progress,
// and forces the task back to backlog. The worktree is kept intact and
// resumable.
func (s *TaskLifecycleService) Stop(ctx context.Context, taskID string) error {
	unlock := s.locks.acquire(taskID)
	defer unlock()

	ctx, span := otel.StartTaskSpan(ctx, "task.stop", taskID)
	defer span.End()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	if err := s.runner.Stop(ctx, t.ID); err != nil {
		return &domain.ProcessError{TaskID: t.ID, Err: err}
	}

	snapshot := *t
	t.Progress = task.Progress{}
	t.Status = task.StatusBacklog
	t.ReviewReason = ""
	t.IsStuck = false

	if err := s.store.UpdateTask(ctx, t); err != nil {
		*t = snapshot
		return &domain.PersistenceError{Op: "stop task", Err: err}
	}

	s.recordTransition(ctx, t)
	s.publish(ctx, messagequeue.SubjectTaskStop, startPayload{TaskID: t.ID, SpecID: t.SpecID})

	slog.Info("task stopped", "task_id", t.ID)
	return nil
}

// Running reports whether the task's agent process is currently alive.
func (s *TaskLifecycleService) Running(ctx context.Context, taskID string) (bool, error) {
	if _, err := s.store.GetTask(ctx, taskID); err != nil {
		return false, err
	}
	return s.runner.IsAlive(ctx, taskID)
}

// SubmitReview resolves a review: approval moves the task to done,
// rejection sends it back to in_progress.
func (s *TaskLifecycleService) SubmitReview(ctx context.Context, taskID string, approved bool, feedback string) (bool, error) {
	unlock := s.locks.acquire(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if t.Status != task.StatusAIReview && t.Status != task.StatusHumanReview {
		return false, domain.NewValidationError("task_id", fmt.Sprintf("task is %s, not in review", t.Status))
	}

	target := task.StatusDone
	if !approved {
		target = task.StatusInProgress
	}
	if err := s.transition(ctx, t, target, ""); err != nil {
		return false, err
	}

	if !approved && feedback != "" {
		// Hand the feedback to the agent runner so the rework pass sees it.
		s.publish(ctx, messagequeue.SubjectTaskStart, map[string]string{
			"task_id":  t.ID,
			"spec_id":  t.SpecID,
			"feedback": feedback,
		})
	}

	slog.Info("review submitted", "task_id", t.ID, "approved", approved)
	return true, nil
}

// Archive soft-archives a done task.
func (s *TaskLifecycleService) Archive(ctx context.Context, taskID string) error {
	unlock := s.locks.acquire(taskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if t.Archived() {
		return nil
	}
	if err := s.store.ArchiveTask(ctx, taskID); err != nil {
		return &domain.PersistenceError{Op: "archive task", Err: err}
	}
	slog.Info("task archived", "task_id", taskID)
	return nil
}

// ApplyProgress folds a subtask progress report into the task and derives
// its new status. Applying the same report twice is a no-op.
func (s *TaskLifecycleService) ApplyProgress(ctx context.Context, p messagequeue.ProgressPayload) error {
	unlock := s.locks.acquire(p.TaskID)
	defer unlock()

	t, err := s.store.GetTask(ctx, p.TaskID)
	if err != nil {
		return err
	}

	snapshot := *t
	snapshot.Subtasks = append([]task.Subtask(nil), t.Subtasks...)

	t.Subtasks = make([]task.Subtask, 0, len(p.Subtasks))
	for _, st := range p.Subtasks {
		t.Subtasks = append(t.Subtasks, task.Subtask{
			ID:     st.ID,
			Title:  st.Title,
			Status: task.SubtaskStatus(st.Status),
		})
	}
	t.Progress = task.Progress{Phase: p.Phase, Current: p.Current, Total: p.Total}

	derived := task.DeriveStatus(t.Status, t.Subtasks, t.Source)
	changed := derived.Status != t.Status || derived.ReviewReason != t.ReviewReason
	t.Status = derived.Status
	t.ReviewReason = derived.ReviewReason

	if err := s.store.UpdateTask(ctx, t); err != nil {
		*t = snapshot
		return &domain.PersistenceError{Op: "apply progress", Err: err}
	}

	s.hub.BroadcastEvent(ctx, ws.EventTaskProgress, ws.TaskProgressEvent{
		TaskID:  t.ID,
		Phase:   t.Progress.Phase,
		Current: t.Progress.Current,
		Total:   t.Progress.Total,
	})
	if changed {
		s.recordTransition(ctx, t)
	}
	return nil
}

// HandleProgressMessage is the queue handler for tasks.progress.
func (s *TaskLifecycleService) HandleProgressMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.ProgressPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode progress payload: %w", err)
	}
	if p.TaskID == "" {
		return domain.NewValidationError("task_id", "must not be empty")
	}
	return s.ApplyProgress(ctx, p)
}

// HandleOutputMessage is the queue handler for tasks.output. Output lines
// are not persisted; they fan out to connected clients and are gone.
func (s *TaskLifecycleService) HandleOutputMessage(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.OutputPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode output payload: %w", err)
	}
	if p.TaskID == "" {
		return domain.NewValidationError("task_id", "must not be empty")
	}

	s.hub.BroadcastEvent(ctx, ws.EventTaskOutput, ws.TaskOutputEvent{
		TaskID: p.TaskID,
		Line:   p.Line,
		Stream: p.Stream,
	})
	return nil
}

// transition applies a status change with rollback on persistence failure
// and broadcasts the result. Re-applying the current status is a no-op.
func (s *TaskLifecycleService) transition(ctx context.Context, t *task.Task, target task.Status, reason task.ReviewReason) error {
	if t.Status == target && t.ReviewReason == reason {
		return nil
	}

	prevStatus, prevReason := t.Status, t.ReviewReason
	t.Status = target
	t.ReviewReason = reason

	if err := s.store.UpdateTaskStatus(ctx, t.ID, target, reason); err != nil {
		t.Status = prevStatus
		t.ReviewReason = prevReason
		return &domain.PersistenceError{Op: "update task status", Err: err}
	}

	s.recordTransition(ctx, t)
	return nil
}

func (s *TaskLifecycleService) recordTransition(ctx context.Context, t *task.Task) {
	if s.metrics != nil {
		s.metrics.TaskTransitions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(t.Status)),
		))
	}
	s.hub.BroadcastEvent(ctx, ws.EventTaskStatus, ws.TaskStatusEvent{
		TaskID:       t.ID,
		ProjectID:    t.ProjectID,
		Status:       string(t.Status),
		ReviewReason: string(t.ReviewReason),
	})
}

func (s *TaskLifecycleService) publish(ctx context.Context, subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal queue payload", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("publish queue message", "subject", subject, "error", err)
	}
}
