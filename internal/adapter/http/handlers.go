package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Strob0t/ReviewForge/internal/adapter/litellm"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/eventstore"
	"github.com/Strob0t/ReviewForge/internal/service"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB
	maxDiffBodySize    = 4 << 20
	defaultListLimit   = 100
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Dispatcher *service.Dispatcher
	Registry   *service.Registry
	Roster     *service.Roster
	Store      database.Store
	Events     eventstore.Store
	Diffs      *service.DiffService
	// LiteLLM is optional; the llm endpoints answer 503 without it.
	LiteLLM *litellm.Client
	// Checks are reported by /health, keyed by dependency name.
	Checks map[string]HealthCheck
}

// --- Tasks ---

type submitTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Priority    string     `json:"priority"`
	ParentID    string     `json:"parent_id"`
	Input       task.Input `json:"input"`
	Deadline    *time.Time `json:"deadline"`
}

func (r submitTaskRequest) toSubmit() (task.SubmitRequest, error) {
	p, err := task.ParsePriority(r.Priority)
	if err != nil {
		return task.SubmitRequest{}, err
	}
	return task.SubmitRequest{
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Priority:    p,
		ParentID:    r.ParentID,
		Input:       r.Input,
		Deadline:    r.Deadline,
	}, nil
}

type routingFailureResponse struct {
	Error  string      `json:"error"`
	Kind   domain.Kind `json:"kind"`
	TaskID string      `json:"task_id"`
}

// SubmitTask handles POST /api/v1/tasks
func (h *Handlers) SubmitTask(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[submitTaskRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	req, err := body.toSubmit()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.Dispatcher.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, t)
	case errors.Is(err, service.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case t != nil && errors.Is(err, domain.ErrRoutingFailure):
		writeJSON(w, http.StatusServiceUnavailable, routingFailureResponse{
			Error:  err.Error(),
			Kind:   domain.KindRoutingFailure,
			TaskID: t.ID,
		})
	default:
		writeDomainError(w, err, "parent task not found")
	}
}

// ListTasks handles GET /api/v1/tasks
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = defaultListLimit
	}
	q := r.URL.Query()
	filter := task.Filter{
		State:    task.State(q.Get("state")),
		Type:     q.Get("type"),
		ActorID:  q.Get("actor_id"),
		ParentID: q.Get("parent_id"),
		Limit:    limit,
	}
	tasks, err := h.Dispatcher.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CancelTask handles POST /api/v1/tasks/{id}/cancel
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Dispatcher.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// ListTaskEvents handles GET /api/v1/tasks/{id}/events
func (h *Handlers) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if _, err := h.Store.GetTask(r.Context(), id); err != nil {
		writeDomainError(w, err, "task not found")
		return
	}

	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	filter := event.Filter{Limit: limit}
	q := r.URL.Query()
	if raw := q.Get("types"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, event.Type(t))
			}
		}
	}
	for name, dst := range map[string]**time.Time{"after": &filter.After, "before": &filter.Before} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = &ts
	}

	events, err := h.Events.LoadByTask(r.Context(), id, filter)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Actors ---

type registerActorRequest struct {
	Name               string   `json:"name"`
	Kind               string   `json:"kind"`
	Capabilities       []string `json:"capabilities"`
	MaxParallelReviews int      `json:"max_parallel_reviews"`
	ParentID           string   `json:"parent_id"`
	Backend            string   `json:"backend"`
	Bias               float64  `json:"bias"`
	LatencyMS          int64    `json:"latency_ms"`
	Model              string   `json:"model"`
}

// RegisterActor handles POST /api/v1/actors
func (h *Handlers) RegisterActor(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[registerActorRequest](w, r, maxRequestBodySize)
	if !ok {
		return
	}
	if !requireField(w, req.Name, "name") || !requireField(w, req.Kind, "kind") {
		return
	}
	a, err := h.Roster.Register(r.Context(), config.RosterEntry{
		Name:               req.Name,
		Kind:               req.Kind,
		Capabilities:       req.Capabilities,
		MaxParallelReviews: req.MaxParallelReviews,
		Parent:             req.ParentID,
		Backend:            req.Backend,
		Bias:               req.Bias,
		Latency:            time.Duration(req.LatencyMS) * time.Millisecond,
		Model:              req.Model,
	})
	if err != nil {
		writeDomainError(w, err, "parent actor not found")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListActors handles GET /api/v1/actors
func (h *Handlers) ListActors(w http.ResponseWriter, r *http.Request) {
	actors := h.Registry.List()
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := actors[:0]
		for _, a := range actors {
			if string(a.Kind) == kind {
				filtered = append(filtered, a)
			}
		}
		actors = filtered
	}
	if actors == nil {
		actors = []actor.Actor{}
	}
	writeJSON(w, http.StatusOK, actors)
}

// RetireActor handles POST /api/v1/actors/{id}/retire
func (h *Handlers) RetireActor(w http.ResponseWriter, r *http.Request) {
	a, err := h.Registry.Retire(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "actor not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ResetActor handles POST /api/v1/actors/{id}/reset
func (h *Handlers) ResetActor(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	if err := h.Registry.Reset(r.Context(), id); err != nil {
		writeDomainError(w, err, "actor not found")
		return
	}
	a, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err, "actor not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Diff ---

type diffRequest struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

type diffResponse struct {
	diff.Result
	Stats diff.Stats `json:"stats"`
}

// ComputeDiff handles POST /api/v1/diff
func (h *Handlers) ComputeDiff(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[diffRequest](w, r, maxDiffBodySize)
	if !ok {
		return
	}
	res, err := h.Diffs.Compute(r.Context(), req.Before, req.After)
	if err != nil {
		writeDomainError(w, err, "diff failed")
		return
	}
	writeJSON(w, http.StatusOK, diffResponse{Result: res, Stats: res.Summarize()})
}

// --- LiteLLM ---

// ListLLMModels handles GET /api/v1/llm/models
func (h *Handlers) ListLLMModels(w http.ResponseWriter, r *http.Request) {
	if h.LiteLLM == nil {
		writeError(w, http.StatusServiceUnavailable, "litellm is not configured")
		return
	}
	models, err := h.LiteLLM.ListModels(r.Context())
	if err != nil {
		slog.Error("litellm list models failed", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list models")
		return
	}
	if models == nil {
		models = []litellm.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

// --- Health ---

type healthResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Actors   int               `json:"actors"`
	Running  int               `json:"running_tasks"`
	Checked  time.Time         `json:"checked_at"`
	Duration string            `json:"duration"`
}

// Health handles GET /health. Any failing check degrades the status to 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.Checks))}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if h.Registry != nil {
		resp.Actors = len(h.Registry.List())
	}
	if h.Dispatcher != nil {
		resp.Running = h.Dispatcher.Running()
	}
	resp.Checked = start.UTC()
	resp.Duration = time.Since(start).String()

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
