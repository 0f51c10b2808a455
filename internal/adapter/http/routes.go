package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Version is reported by GET /api/v1/.
const Version = "0.1.0"

// MountRoutes registers all API routes on the given chi router. idempotency
// wraps the mutating task and actor endpoints; nil disables it.
func MountRoutes(r chi.Router, h *Handlers, idempotency func(http.Handler) http.Handler) {
	if idempotency == nil {
		idempotency = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Tasks
		r.With(idempotency).Post("/tasks", h.SubmitTask)
		r.Get("/tasks", h.ListTasks)
		r.Get("/tasks/{id}", handleGet(h.Dispatcher.Get, "task not found"))
		r.Post("/tasks/{id}/cancel", h.CancelTask)
		r.Get("/tasks/{id}/revisions", handleListByParam("id", h.taskExists, h.Store.ListRevisions, "task not found"))
		r.Get("/tasks/{id}/reviews", handleListByParam("id", h.taskExists, h.Store.ListReviewResults, "task not found"))
		r.Get("/tasks/{id}/consensus", handleListByParam("id", h.taskExists, h.Store.ListConsensus, "task not found"))
		r.Get("/tasks/{id}/subtasks", handleListByParam("id", h.taskExists, h.listSubtasks, "task not found"))
		r.Get("/tasks/{id}/events", h.ListTaskEvents)

		// Actors
		r.With(idempotency).Post("/actors", h.RegisterActor)
		r.Get("/actors", h.ListActors)
		r.Get("/actors/{id}", handleGet(h.getActor, "actor not found"))
		r.Post("/actors/{id}/retire", h.RetireActor)
		r.Post("/actors/{id}/reset", h.ResetActor)

		// Diff
		r.Post("/diff", h.ComputeDiff)

		// LLM (proxied to LiteLLM)
		r.Get("/llm/models", h.ListLLMModels)
	})
}

func (h *Handlers) taskExists(ctx context.Context, id string) error {
	_, err := h.Store.GetTask(ctx, id)
	return err
}

func (h *Handlers) listSubtasks(ctx context.Context, id string) ([]task.Task, error) {
	return h.Dispatcher.List(ctx, task.Filter{ParentID: id, Limit: defaultListLimit})
}

func (h *Handlers) getActor(_ context.Context, id string) (*actor.Actor, error) {
	return h.Registry.Get(id)
}
