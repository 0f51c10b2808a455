package capability_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Strob0t/ReviewForge/internal/domain/capability"
)

func TestSatisfies(t *testing.T) {
	reviewer := capability.Of(capability.Review, capability.ContentReview).WithMaxParallelReviews(2)

	tests := []struct {
		name     string
		required capability.Set
		want     bool
	}{
		{"empty requirement", capability.Set{}, true},
		{"subset", capability.Of(capability.Review), true},
		{"exact", capability.Of(capability.Review, capability.ContentReview), true},
		{"missing flag", capability.Of(capability.Review, capability.CodeReview), false},
		{"limit met", capability.Of(capability.Review).WithMaxParallelReviews(2), true},
		{"limit exceeded", capability.Of(capability.Review).WithMaxParallelReviews(3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reviewer.Satisfies(tt.required); got != tt.want {
				t.Errorf("Satisfies(%s) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestParseUnknownFlag(t *testing.T) {
	_, err := capability.Parse([]string{"review", "telepathy"})
	if !errors.Is(err, capability.ErrUnknownFlag) {
		t.Fatalf("expected ErrUnknownFlag, got %v", err)
	}
}

func TestJSONUsesNames(t *testing.T) {
	s := capability.Of(capability.Coordinate, capability.ContentReview).WithMaxParallelReviews(4)
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"flags":["coordinate","content_review"],"max_parallel_reviews":4}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}

	var back capability.Set
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back != s {
		t.Errorf("decoded %v, want %v", back, s)
	}
}

func TestUnmarshalRejectsUnknown(t *testing.T) {
	var s capability.Set
	if err := json.Unmarshal([]byte(`{"flags":["nope"]}`), &s); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}
