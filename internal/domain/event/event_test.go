package event

import (
	"testing"
	"time"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeTaskAssigned, "tasks.assigned"},
		{TypeTaskFailed, "tasks.failed"},
		{TypeActorStatus, "actors.status"},
		{TypeReviewTimeout, "reviews.timeout"},
		{TypeConsensus, "reviews.consensus"},
		{TypeRevisionCreated, "drafts.revision_created"},
	}
	for _, tt := range tests {
		if got := tt.typ.Subject(); got != tt.want {
			t.Errorf("%s.Subject() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	before := base.Add(-time.Minute)
	after := base.Add(time.Minute)
	ev := &Event{Type: TypeTaskCompleted, CreatedAt: base}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"type match", Filter{Types: []Type{TypeTaskFailed, TypeTaskCompleted}}, true},
		{"type miss", Filter{Types: []Type{TypeTaskFailed}}, false},
		{"after", Filter{After: &before}, true},
		{"after excludes equal", Filter{After: &base}, false},
		{"before", Filter{Before: &after}, true},
		{"before miss", Filter{Before: &before}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(ev); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}
