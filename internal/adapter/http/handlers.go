package http

import (
	"net/http"

	"github.com/Strob0t/ForgeFlow/internal/adapter/ws"
	"github.com/Strob0t/ForgeFlow/internal/domain/staging"
	"github.com/Strob0t/ForgeFlow/internal/domain/task"
	"github.com/Strob0t/ForgeFlow/internal/domain/worktree"
	"github.com/Strob0t/ForgeFlow/internal/port/messagequeue"
	"github.com/Strob0t/ForgeFlow/internal/service"
)

// Handlers bundles the services exposed over the REST API.
type Handlers struct {
	Lifecycle *service.TaskLifecycleService
	Worktrees *service.WorktreeService
	Staging   *service.StagingService
	Monitor   *service.HealthMonitor
	Failover  *service.FailoverService
	Hub       *ws.Hub
	Queue     messagequeue.Queue
}

// --- Tasks ---

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Lifecycle.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Lifecycle.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Lifecycle.Get(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handlers) StartTask(w http.ResponseWriter, r *http.Request) {
	var opts service.StartOptions
	if r.ContentLength > 0 {
		var ok bool
		if opts, ok = readJSON[service.StartOptions](w, r); !ok {
			return
		}
	}
	id := urlParam(r, "id")
	if err := h.Lifecycle.Start(r.Context(), id, opts); err != nil {
		writeDomainError(w, err)
		return
	}
	h.Monitor.NoteStarted(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(task.StatusInProgress)})
}

func (h *Handlers) StopTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Stop(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(task.StatusBacklog)})
}

func (h *Handlers) TaskRunning(w http.ResponseWriter, r *http.Request) {
	running, err := h.Lifecycle.Running(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": running})
}

func (h *Handlers) SubmitReview(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Approved bool   `json:"approved"`
		Feedback string `json:"feedback,omitempty"`
	}](w, r)
	if !ok {
		return
	}
	accepted, err := h.Lifecycle.SubmitReview(r.Context(), urlParam(r, "id"), body.Approved, body.Feedback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func (h *Handlers) ArchiveTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Lifecycle.Archive(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RecoverTask(w http.ResponseWriter, r *http.Request) {
	var opts service.RecoverOptions
	if r.ContentLength > 0 {
		var ok bool
		if opts, ok = readJSON[service.RecoverOptions](w, r); !ok {
			return
		}
	}
	result, err := h.Monitor.RecoverStuckTask(r.Context(), urlParam(r, "id"), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Worktrees ---

func (h *Handlers) ListWorktrees(w http.ResponseWriter, r *http.Request) {
	result, err := h.Worktrees.List(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) CreateWorktree(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[worktree.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Worktrees.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) WorktreeHealth(w http.ResponseWriter, r *http.Request) {
	status, err := h.Worktrees.Health(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handlers) ConflictRisks(w http.ResponseWriter, r *http.Request) {
	risks, err := h.Worktrees.ConflictRisks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if risks == nil {
		risks = []worktree.ConflictRisk{}
	}
	writeJSON(w, http.StatusOK, risks)
}

func (h *Handlers) MergeOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Worktrees.MergeOrder(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handlers) DiscardWorktree(w http.ResponseWriter, r *http.Request) {
	if err := h.Worktrees.DiscardBySpec(r.Context(), urlParam(r, "spec")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Staging ---

func (h *Handlers) StageWorktree(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		TaskID string `json:"task_id"`
	}](w, r)
	if !ok {
		return
	}
	if !requireField(w, body.TaskID, "task_id") {
		return
	}
	result, err := h.Staging.StageWorktree(r.Context(), body.TaskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !result.Success {
		// Conflicting files: report the result without mutating anything.
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) StagedChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := h.Staging.StagedChanges(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if changes == nil {
		changes = []staging.StagedChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *Handlers) CommitStaged(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[staging.CommitRequest](w, r)
	if !ok {
		return
	}
	results, err := h.Staging.Commit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) DiscardStaged(w http.ResponseWriter, r *http.Request) {
	if err := h.Staging.Discard(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ReviewStaged(w http.ResponseWriter, r *http.Request) {
	report, err := h.Staging.AIReview(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) CommitMessage(w http.ResponseWriter, r *http.Request) {
	mode := staging.CommitMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = staging.ModeAll
	}
	msg, err := h.Staging.CommitMessage(r.Context(), mode)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// --- Credential profiles ---

func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Failover.Profiles(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (h *Handlers) AddProfile(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[struct {
		Name      string `json:"name"`
		Token     string `json:"token"`
		IsDefault bool   `json:"is_default"`
	}](w, r)
	if !ok {
		return
	}
	created, err := h.Failover.AddProfile(r.Context(), body.Name, body.Token, body.IsDefault)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) ActivateProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.Failover.ActivateProfile(r.Context(), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PendingRateLimits(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Failover.PendingRateLimits(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handlers) RetryWithProfile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.RetryRequest](w, r)
	if !ok {
		return
	}
	if err := h.Failover.RetryWithProfile(r.Context(), req); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListSwaps(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Failover.Swaps())
}

// --- Service health ---

func (h *Handlers) ServiceHealth(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"nats_connected": h.Queue.IsConnected(),
		"ws_connections": h.Hub.ConnectionCount(),
	}
	writeJSON(w, http.StatusOK, status)
}
