package a2a

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// Tasks is the subset of the dispatcher the A2A endpoints need.
type Tasks interface {
	Submit(ctx context.Context, req task.SubmitRequest) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
}

// Handler serves the A2A protocol endpoints.
type Handler struct {
	baseURL string
	types   []string
	tasks   Tasks
}

// NewHandler creates an A2A handler. types lists the routable task types
// advertised as skills.
func NewHandler(baseURL string, types []string, tasks Tasks) *Handler {
	return &Handler{baseURL: baseURL, types: types, tasks: tasks}
}

// MountRoutes registers A2A routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/.well-known/agent.json", h.handleAgentCard)
	r.Post("/a2a/tasks", h.handleCreateTask)
	r.Get("/a2a/tasks/{id}", h.handleGetTask)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, BuildAgentCard(h.baseURL, h.types))
}

func (h *Handler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Skill == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "skill is required"})
		return
	}
	prio, err := task.ParsePriority(req.Input.Priority)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	in := task.Input{Content: req.Input.Content, Criteria: req.Input.Criteria, Keywords: req.Input.Keywords}
	if req.ID != "" {
		in.Metadata = map[string]string{"a2a_id": req.ID}
	}
	t, err := h.tasks.Submit(r.Context(), task.SubmitRequest{
		Title:    req.Input.Title,
		Type:     req.Skill,
		Priority: prio,
		Input:    in,
	})
	// A routing failure still persists the task, which is reported as failed.
	if err != nil && t == nil {
		if errors.Is(err, domain.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		slog.Error("a2a submit failed", "skill", req.Skill, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "task not accepted"})
		return
	}

	slog.Info("a2a task created", "id", t.ID, "client_id", req.ID, "skill", req.Skill)
	writeJSON(w, http.StatusCreated, toResponse(t))
}

func (h *Handler) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		slog.Error("a2a get task failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toResponse(t))
}

// statusOf maps task states onto A2A task statuses.
func statusOf(s task.State) string {
	switch s {
	case task.StatePending, task.StateAssigned:
		return "queued"
	case task.StateInProgress:
		return "running"
	case task.StateCompleted:
		return "completed"
	case task.StateCancelled:
		return "canceled"
	default:
		return "failed"
	}
}

func toResponse(t *task.Task) *TaskResponse {
	resp := &TaskResponse{ID: t.ID, ClientID: t.Input.Metadata["a2a_id"], Status: statusOf(t.State)}
	if t.Output != nil {
		resp.Output = map[string]any{
			"content":   t.Output.Content,
			"decision":  t.Output.Decision,
			"score":     t.Output.Score,
			"revisions": t.Output.Revisions,
		}
	}
	if t.Error != nil {
		resp.Error = t.Error.Detail
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
