package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
	"github.com/Strob0t/ReviewForge/internal/port/database"
)

// Outcome describes how a reserved actor's work ended.
type Outcome struct {
	// Fault marks the actor as errored instead of idle.
	Fault bool
	// Counted folds the outcome into the actor's performance counters.
	Counted bool
	Success bool
	Latency time.Duration
}

// registryEntry guards one actor's mutable state. Reservation only ever
// takes this lock, never the registry-wide one.
type registryEntry struct {
	mu      sync.Mutex
	actor   actor.Actor
	handler Handler
	// reserved stays set from Reserve to Release, including while a
	// retired actor finishes in-flight work.
	reserved bool
}

// Registry tracks registered actors, their capabilities and availability.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	seq     int64

	store  database.Store
	events *EventPublisher
}

// NewRegistry creates an empty registry. store and events may be nil.
func NewRegistry(store database.Store, events *EventPublisher) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		store:   store,
		events:  events,
	}
}

// Reserved pairs a reserved actor with its handler.
type Reserved struct {
	Actor   actor.Actor
	Handler Handler
}

// Register adds an actor in the idle state. A handler is required for
// every kind except the dispatcher, and its variant must match the kind.
func (r *Registry) Register(ctx context.Context, req actor.RegisterRequest, h Handler) (*actor.Actor, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if h == nil && req.Kind != actor.KindDispatcher {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, errNilHandler)
	}
	if h != nil && h.Kind() != req.Kind {
		return nil, fmt.Errorf("%w: handler kind %s does not match actor kind %s", domain.ErrValidation, h.Kind(), req.Kind)
	}

	now := time.Now().UTC()
	r.mu.Lock()
	if req.ParentID != "" {
		if _, ok := r.entries[req.ParentID]; !ok {
			r.mu.Unlock()
			return nil, fmt.Errorf("parent actor %s: %w", req.ParentID, domain.ErrNotFound)
		}
	}
	r.seq++
	e := &registryEntry{
		actor: actor.Actor{
			ID:            uuid.New().String(),
			Name:          req.Name,
			Kind:          req.Kind,
			Capabilities:  req.Capabilities,
			Status:        actor.StatusIdle,
			ParentID:      req.ParentID,
			RegisteredSeq: r.seq,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		handler: h,
	}
	r.entries[e.actor.ID] = e
	r.mu.Unlock()

	a := e.actor
	r.persist(ctx, &a)
	r.events.Publish(ctx, event.TypeActorRegistered, "", a.ID, a)
	slog.Info("actor registered", "actor_id", a.ID, "name", a.Name, "kind", a.Kind, "capabilities", a.Capabilities.String())
	return &a, nil
}

// Find returns actors whose capabilities are a superset of required, ordered
// by fewest completed tasks, then highest success rate, then registration
// order. Offline actors are never returned; with excludeBusy only idle
// actors are.
func (r *Registry) Find(required capability.Set, excludeBusy bool) []actor.Actor {
	r.mu.RLock()
	entries := make([]*registryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var out []actor.Actor
	for _, e := range entries {
		e.mu.Lock()
		a := e.actor
		e.mu.Unlock()
		if a.Status == actor.StatusOffline || a.Kind == actor.KindDispatcher {
			continue
		}
		if excludeBusy && !a.Available() {
			continue
		}
		if !a.Capabilities.Satisfies(required) {
			continue
		}
		out = append(out, a)
	}
	sortCandidates(out)
	return out
}

func sortCandidates(as []actor.Actor) {
	sort.Slice(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.Stats.TasksCompleted != b.Stats.TasksCompleted {
			return a.Stats.TasksCompleted < b.Stats.TasksCompleted
		}
		if a.Stats.SuccessRate != b.Stats.SuccessRate {
			return a.Stats.SuccessRate > b.Stats.SuccessRate
		}
		return a.RegisteredSeq < b.RegisteredSeq
	})
}

// Reserve atomically moves an idle actor to busy. Exactly one concurrent
// caller wins; the others get domain.ErrAlreadyBusy and must re-query.
func (r *Registry) Reserve(ctx context.Context, id string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.actor.Status != actor.StatusIdle {
		status := e.actor.Status
		e.mu.Unlock()
		return fmt.Errorf("reserve actor %s (%s): %w", id, status, domain.ErrAlreadyBusy)
	}
	e.actor.Status = actor.StatusBusy
	e.actor.UpdatedAt = time.Now().UTC()
	e.reserved = true
	a := e.actor
	e.mu.Unlock()

	r.statusChanged(ctx, &a)
	return nil
}

// Acquire finds and reserves the best candidate for required. Losing a
// reservation race re-queries, up to attempts rounds.
func (r *Registry) Acquire(ctx context.Context, required capability.Set, attempts int) (Reserved, error) {
	got, err := r.AcquireN(ctx, required, 1, 1, attempts)
	if err != nil {
		return Reserved{}, err
	}
	return got[0], nil
}

// AcquireN reserves up to want actors satisfying required, and at least
// atLeast. On failure nothing stays reserved and the error is a routing
// failure.
func (r *Registry) AcquireN(ctx context.Context, required capability.Set, want, atLeast, attempts int) ([]Reserved, error) {
	if attempts < 1 {
		attempts = 1
	}
	var got []Reserved
	taken := map[string]bool{}
	for round := 0; round < attempts && len(got) < want; round++ {
		candidates := r.Find(required, true)
		if len(candidates) == 0 {
			break
		}
		for _, c := range candidates {
			if len(got) == want {
				break
			}
			if taken[c.ID] {
				continue
			}
			if err := r.Reserve(ctx, c.ID); err != nil {
				continue
			}
			h, _ := r.Handler(c.ID)
			c.Status = actor.StatusBusy
			got = append(got, Reserved{Actor: c, Handler: h})
			taken[c.ID] = true
		}
	}
	if len(got) < atLeast {
		for _, g := range got {
			r.Release(ctx, g.Actor.ID, Outcome{})
		}
		return nil, domain.NewError(domain.KindRoutingFailure,
			"need %d available actor(s) with capabilities [%s], found %d", atLeast, required, len(got))
	}
	return got, nil
}

// Release returns a reserved actor to idle, or to error on a fault. A
// retired actor stays offline.
func (r *Registry) Release(ctx context.Context, id string, o Outcome) {
	e, err := r.entry(id)
	if err != nil {
		slog.Warn("release unknown actor", "actor_id", id)
		return
	}
	e.mu.Lock()
	e.reserved = false
	if o.Counted {
		e.actor.Stats.Record(o.Success, o.Latency)
	}
	switch {
	case e.actor.Status == actor.StatusOffline:
	case o.Fault:
		e.actor.Status = actor.StatusError
	default:
		e.actor.Status = actor.StatusIdle
	}
	e.actor.UpdatedAt = time.Now().UTC()
	a := e.actor
	e.mu.Unlock()

	r.statusChanged(ctx, &a)
}

// Reset returns an errored or retired actor to idle. A busy actor, or a
// retired one still finishing reserved work, is a conflict.
func (r *Registry) Reset(ctx context.Context, id string) error {
	e, err := r.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	resettable := e.actor.Status == actor.StatusError ||
		(e.actor.Status == actor.StatusOffline && !e.reserved)
	if !resettable {
		e.mu.Unlock()
		return fmt.Errorf("reset actor %s (%s): %w", id, e.actor.Status, domain.ErrConflict)
	}
	e.actor.Status = actor.StatusIdle
	e.actor.UpdatedAt = time.Now().UTC()
	a := e.actor
	e.mu.Unlock()

	r.statusChanged(ctx, &a)
	return nil
}

// Retire marks an actor offline. It is kept so in-flight references stay
// resolvable.
func (r *Registry) Retire(ctx context.Context, id string) (*actor.Actor, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.actor.Status = actor.StatusOffline
	e.actor.UpdatedAt = time.Now().UTC()
	a := e.actor
	e.mu.Unlock()

	r.statusChanged(ctx, &a)
	return &a, nil
}

// Get returns a snapshot of one actor.
func (r *Registry) Get(id string) (*actor.Actor, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	a := e.actor
	e.mu.Unlock()
	return &a, nil
}

// List returns every actor in registration order.
func (r *Registry) List() []actor.Actor {
	r.mu.RLock()
	out := make([]actor.Actor, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		out = append(out, e.actor)
		e.mu.Unlock()
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RegisteredSeq < out[j].RegisteredSeq })
	return out
}

// Handler returns the handler variant of an actor.
func (r *Registry) Handler(id string) (Handler, error) {
	e, err := r.entry(id)
	if err != nil {
		return nil, err
	}
	return e.handler, nil
}

func (r *Registry) entry(id string) (*registryEntry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("actor %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

func (r *Registry) statusChanged(ctx context.Context, a *actor.Actor) {
	r.persist(ctx, a)
	r.events.Publish(ctx, event.TypeActorStatus, "", a.ID, map[string]any{
		"actor_id": a.ID,
		"status":   a.Status,
		"stats":    a.Stats,
	})
}

func (r *Registry) persist(ctx context.Context, a *actor.Actor) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveActor(ctx, a); err != nil {
		slog.Warn("persist actor", "actor_id", a.ID, "error", err)
	}
}
