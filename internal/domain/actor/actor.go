// Package actor defines the registered entities that receive work: the
// dispatcher, department coordinators, reviewers and producers.
package actor

import (
	"errors"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/capability"
)

// Status represents the availability of an actor.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// Kind is the closed set of handler variants an actor can be.
type Kind string

const (
	KindDispatcher  Kind = "dispatcher"
	KindCoordinator Kind = "coordinator"
	KindReviewer    Kind = "reviewer"
	KindProducer    Kind = "producer"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDispatcher, KindCoordinator, KindReviewer, KindProducer:
		return true
	}
	return false
}

// Stats holds aggregate performance counters.
type Stats struct {
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	SuccessRate    float64 `json:"success_rate"`
	MeanLatencyMS  float64 `json:"mean_latency_ms"`
}

// Record folds one finished task into the counters. Latency is a running mean
// over all finished tasks.
func (s *Stats) Record(success bool, latency time.Duration) {
	total := s.TasksCompleted + s.TasksFailed
	if success {
		s.TasksCompleted++
	} else {
		s.TasksFailed++
	}
	n := float64(total + 1)
	s.MeanLatencyMS += (float64(latency.Milliseconds()) - s.MeanLatencyMS) / n
	s.SuccessRate = float64(s.TasksCompleted) / n
}

// Actor is a registered work handler.
type Actor struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Kind          Kind           `json:"kind"`
	Capabilities  capability.Set `json:"capabilities"`
	Status        Status         `json:"status"`
	ParentID      string         `json:"parent_id,omitempty"`
	Stats         Stats          `json:"stats"`
	RegisteredSeq int64          `json:"registered_seq"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Available reports whether the actor can be reserved.
func (a *Actor) Available() bool { return a.Status == StatusIdle }

var (
	ErrNameRequired = errors.New("actor name is required")
	ErrInvalidKind  = errors.New("invalid actor kind: must be dispatcher, coordinator, reviewer, or producer")
	ErrNoCapability = errors.New("actor must declare at least one capability")
)

// RegisterRequest holds the fields needed to register an actor.
type RegisterRequest struct {
	Name         string         `json:"name" yaml:"name"`
	Kind         Kind           `json:"kind" yaml:"kind"`
	Capabilities capability.Set `json:"capabilities" yaml:"capabilities"`
	ParentID     string         `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
}

// Validate checks the request for structural correctness.
func (r *RegisterRequest) Validate() error {
	if r.Name == "" {
		return ErrNameRequired
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if r.Capabilities.Len() == 0 {
		return ErrNoCapability
	}
	return nil
}
