package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.ServiceHealth)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Tasks
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{id}", h.GetTask)
		r.Post("/tasks/{id}/start", h.StartTask)
		r.Post("/tasks/{id}/stop", h.StopTask)
		r.Get("/tasks/{id}/running", h.TaskRunning)
		r.Post("/tasks/{id}/review", h.SubmitReview)
		r.Post("/tasks/{id}/archive", h.ArchiveTask)
		r.Post("/tasks/{id}/recover", h.RecoverTask)

		// Worktrees
		r.Get("/worktrees", h.ListWorktrees)
		r.Post("/worktrees", h.CreateWorktree)
		r.Get("/worktrees/health", h.WorktreeHealth)
		r.Get("/worktrees/conflicts", h.ConflictRisks)
		r.Get("/worktrees/merge-order", h.MergeOrder)
		r.Delete("/worktrees/{spec}", h.DiscardWorktree)

		// Staging
		r.Get("/staging", h.StagedChanges)
		r.Post("/staging/stage", h.StageWorktree)
		r.Post("/staging/commit", h.CommitStaged)
		r.Post("/staging/discard", h.DiscardStaged)
		r.Get("/staging/review", h.ReviewStaged)
		r.Get("/staging/commit-message", h.CommitMessage)

		// Credential profiles
		r.Get("/credentials/profiles", h.ListProfiles)
		r.Post("/credentials/profiles", h.AddProfile)
		r.Post("/credentials/profiles/{id}/activate", h.ActivateProfile)
		r.Get("/credentials/pending", h.PendingRateLimits)
		r.Post("/credentials/retry", h.RetryWithProfile)
		r.Get("/credentials/swaps", h.ListSwaps)
	})
}
