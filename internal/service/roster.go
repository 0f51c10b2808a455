package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strob0t/ReviewForge/internal/adapter/litellm"
	"github.com/Strob0t/ReviewForge/internal/adapter/otel"
	"github.com/Strob0t/ReviewForge/internal/config"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/review"
	"github.com/Strob0t/ReviewForge/internal/port/database"
	"github.com/Strob0t/ReviewForge/internal/port/producer"
	"github.com/Strob0t/ReviewForge/internal/port/reviewer"
)

// Backend names selectable per roster entry.
const (
	BackendRubric   = "rubric"
	BackendTemplate = "template"
	BackendLLM      = "llm"
)

// PolicyFrom builds a review policy from configuration.
func PolicyFrom(c config.Review) review.Policy {
	p := review.Policy{
		AcceptThreshold:   c.AcceptThreshold,
		RejectThreshold:   c.RejectThreshold,
		MinQuorum:         c.MinQuorum,
		PoolSize:          c.PoolSize,
		Timeout:           c.Timeout,
		EarlyQuorum:       c.EarlyQuorum,
		MaxParallel:       c.MaxParallel,
		MaxRevisionCycles: c.MaxRevisionCycles,
		ScorePrecision:    c.ScorePrecision,
	}
	if len(c.CriterionWeights) > 0 {
		p.CriterionWeights = make(map[string]float64, len(c.CriterionWeights))
		for k, v := range c.CriterionWeights {
			p.CriterionWeights[k] = v
		}
	}
	return p
}

// RubricFrom builds the base rubric from configuration.
func RubricFrom(c config.Review) review.Rubric {
	r := review.DefaultRubric().WithCriteria(c.Criteria)
	if c.TargetWords > 0 {
		r.TargetWords = c.TargetWords
	}
	if c.NeedsImprovement > 0 {
		r.NeedsImprovement = c.NeedsImprovement
	}
	return r
}

// RosterConfig holds what the roster needs to build actor handlers.
type RosterConfig struct {
	Review          config.Review
	AcquireAttempts int
	// LLM is required only for entries with the llm backend.
	LLM          *litellm.Client
	DefaultModel string
}

// Roster turns declarative actor entries into registered actors with the
// matching handler variant. Parents may be referenced by name or ID.
type Roster struct {
	cfg      RosterConfig
	registry *Registry
	diffs    *DiffService
	store    database.Store
	events   *EventPublisher
	metrics  *otel.Metrics

	mu     sync.Mutex
	byName map[string]string
}

// NewRoster creates a roster over registry. store, events and metrics may
// be nil.
func NewRoster(cfg RosterConfig, registry *Registry, diffs *DiffService, store database.Store, events *EventPublisher, metrics *otel.Metrics) *Roster {
	if cfg.AcquireAttempts < 1 {
		cfg.AcquireAttempts = 3
	}
	return &Roster{
		cfg:      cfg,
		registry: registry,
		diffs:    diffs,
		store:    store,
		events:   events,
		metrics:  metrics,
		byName:   make(map[string]string),
	}
}

// Load registers entries in order. Parents must precede their children.
func (r *Roster) Load(ctx context.Context, entries []config.RosterEntry) error {
	for i := range entries {
		if _, err := r.Register(ctx, entries[i]); err != nil {
			return fmt.Errorf("roster entry %q: %w", entries[i].Name, err)
		}
	}
	return nil
}

// Register builds and registers one actor.
func (r *Roster) Register(ctx context.Context, e config.RosterEntry) (*actor.Actor, error) {
	caps, err := capability.Parse(e.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if e.MaxParallelReviews > 0 {
		caps = caps.WithMaxParallelReviews(e.MaxParallelReviews)
	}
	kind := actor.Kind(strings.ToLower(e.Kind))

	parentID, err := r.resolveParent(e.Parent)
	if err != nil {
		return nil, err
	}

	h, err := r.handlerFor(kind, caps, e)
	if err != nil {
		return nil, err
	}

	a, err := r.registry.Register(ctx, actor.RegisterRequest{
		Name:         e.Name,
		Kind:         kind,
		Capabilities: caps,
		ParentID:     parentID,
	}, h)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byName[a.Name] = a.ID
	r.mu.Unlock()
	return a, nil
}

func (r *Roster) resolveParent(ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	r.mu.Lock()
	id, ok := r.byName[ref]
	r.mu.Unlock()
	if ok {
		return id, nil
	}
	if _, err := r.registry.Get(ref); err != nil {
		return "", fmt.Errorf("parent %q: %w", ref, domain.ErrNotFound)
	}
	return ref, nil
}

func (r *Roster) handlerFor(kind actor.Kind, caps capability.Set, e config.RosterEntry) (Handler, error) {
	rubric := RubricFrom(r.cfg.Review)
	switch kind {
	case actor.KindDispatcher:
		return nil, nil
	case actor.KindReviewer:
		rv, err := r.reviewer(e)
		if err != nil {
			return nil, err
		}
		return ReviewerHandler{Reviewer: rv, Rubric: rubric, Store: r.store}, nil
	case actor.KindProducer:
		p, err := r.producer(e)
		if err != nil {
			return nil, err
		}
		return ProducerHandler{Producer: p}, nil
	case actor.KindCoordinator:
		coord, err := NewCoordinator(CoordinatorConfig{
			Policy:          PolicyFrom(r.cfg.Review),
			Rubric:          rubric,
			Department:      domainFlag(caps),
			AcquireAttempts: r.cfg.AcquireAttempts,
		}, r.registry, &PoolProducer{
			Registry: r.registry,
			Attempts: r.cfg.AcquireAttempts,
			Fallback: &TemplateProducer{Threshold: rubric.NeedsImprovement, TargetWords: rubric.TargetWords},
		}, r.diffs, r.store, r.events, r.metrics)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		return DepartmentHandler{Coordinator: coord}, nil
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrValidation, actor.ErrInvalidKind)
}

func (r *Roster) reviewer(e config.RosterEntry) (reviewer.Reviewer, error) {
	switch e.Backend {
	case "", BackendRubric:
		return &RubricReviewer{ID: e.Name, Bias: e.Bias, Latency: e.Latency}, nil
	case BackendLLM:
		if r.cfg.LLM == nil {
			return nil, fmt.Errorf("%w: reviewer %q uses the llm backend but no LiteLLM client is configured", domain.ErrValidation, e.Name)
		}
		return &litellm.Reviewer{Client: r.cfg.LLM, Model: r.model(e), ID: e.Name}, nil
	}
	return nil, fmt.Errorf("%w: unknown reviewer backend %q", domain.ErrValidation, e.Backend)
}

func (r *Roster) producer(e config.RosterEntry) (producer.Producer, error) {
	switch e.Backend {
	case "", BackendTemplate:
		rubric := RubricFrom(r.cfg.Review)
		return &TemplateProducer{Threshold: rubric.NeedsImprovement, TargetWords: rubric.TargetWords}, nil
	case BackendLLM:
		if r.cfg.LLM == nil {
			return nil, fmt.Errorf("%w: producer %q uses the llm backend but no LiteLLM client is configured", domain.ErrValidation, e.Name)
		}
		return &litellm.Producer{Client: r.cfg.LLM, Model: r.model(e)}, nil
	}
	return nil, fmt.Errorf("%w: unknown producer backend %q", domain.ErrValidation, e.Backend)
}

func (r *Roster) model(e config.RosterEntry) string {
	if e.Model != "" {
		return e.Model
	}
	return r.cfg.DefaultModel
}

// PoolProducer reserves a registered producer actor for each redraft and
// falls back when none is available.
type PoolProducer struct {
	Registry *Registry
	Attempts int
	Fallback producer.Producer
}

// Revise implements producer.Producer.
func (p *PoolProducer) Revise(ctx context.Context, req producer.Request) (string, error) {
	res, err := p.Registry.Acquire(ctx, capability.Of(capability.DraftRevision), p.Attempts)
	if err != nil {
		if p.Fallback == nil {
			return "", err
		}
		return p.Fallback.Revise(ctx, req)
	}

	h, ok := res.Handler.(ProducerHandler)
	if !ok {
		p.Registry.Release(ctx, res.Actor.ID, Outcome{})
		if p.Fallback == nil {
			return "", fmt.Errorf("actor %s cannot produce drafts", res.Actor.ID)
		}
		return p.Fallback.Revise(ctx, req)
	}

	start := time.Now()
	content, err := h.Producer.Revise(ctx, req)
	p.Registry.Release(ctx, res.Actor.ID, Outcome{
		Counted: true,
		Success: err == nil,
		Latency: time.Since(start),
	})
	if err != nil {
		slog.Warn("producer failed", "actor_id", res.Actor.ID, "error", err)
		return "", err
	}
	return content, nil
}
