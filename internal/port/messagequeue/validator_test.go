package messagequeue

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTaskSubmit(t *testing.T) {
	data := []byte(`{"title":"Launch post","type":"content_review","content":"Draft text."}`)
	if err := Validate(SubjectTaskSubmit, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateTaskSubmitMissingFields(t *testing.T) {
	data := []byte(`{"title":"Launch post"}`)
	if err := Validate(SubjectTaskSubmit, data); !errors.Is(err, ErrSubmitMissingFields) {
		t.Fatalf("expected ErrSubmitMissingFields, got %v", err)
	}
}

func TestValidateTaskSubmitWrongType(t *testing.T) {
	data := []byte(`{"title":42,"type":"x","content":"y"}`)
	err := Validate(SubjectTaskSubmit, data)
	if err == nil || !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected schema error, got %v", err)
	}
}

func TestValidateTaskCancel(t *testing.T) {
	if err := Validate(SubjectTaskCancel, []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Validate(SubjectTaskCancel, []byte(`{}`)); !errors.Is(err, ErrCancelMissingTask) {
		t.Fatalf("expected ErrCancelMissingTask, got %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectTaskSubmit, []byte(`{broken`))
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected invalid JSON error, got %v", err)
	}
}

func TestValidateUnknownSubjectPasses(t *testing.T) {
	if err := Validate("reviews.consensus", []byte(`{"anything":true}`)); err != nil {
		t.Fatalf("unknown subjects should pass, got %v", err)
	}
}
