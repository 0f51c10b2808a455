package actor_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
)

func TestStatsRecord(t *testing.T) {
	var s actor.Stats
	s.Record(true, 100*time.Millisecond)
	s.Record(false, 300*time.Millisecond)
	s.Record(true, 200*time.Millisecond)

	if s.TasksCompleted != 2 || s.TasksFailed != 1 {
		t.Fatalf("counts = %d/%d, want 2/1", s.TasksCompleted, s.TasksFailed)
	}
	if math.Abs(s.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("success rate = %f, want 0.667", s.SuccessRate)
	}
	if math.Abs(s.MeanLatencyMS-200) > 1e-9 {
		t.Errorf("mean latency = %f, want 200", s.MeanLatencyMS)
	}
}

func TestRegisterRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  actor.RegisterRequest
		want error
	}{
		{"ok", actor.RegisterRequest{Name: "r1", Kind: actor.KindReviewer, Capabilities: capability.Of(capability.Review)}, nil},
		{"no name", actor.RegisterRequest{Kind: actor.KindReviewer, Capabilities: capability.Of(capability.Review)}, actor.ErrNameRequired},
		{"bad kind", actor.RegisterRequest{Name: "x", Kind: "wizard", Capabilities: capability.Of(capability.Review)}, actor.ErrInvalidKind},
		{"no caps", actor.RegisterRequest{Name: "x", Kind: actor.KindProducer}, actor.ErrNoCapability},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
