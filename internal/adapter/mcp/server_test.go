package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	rfmcp "github.com/Strob0t/ReviewForge/internal/adapter/mcp"
	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/diff"
	"github.com/Strob0t/ReviewForge/internal/domain/task"
)

// --- Mocks ---

type mockTasks struct {
	submitted []task.SubmitRequest
	statuses  map[string]task.Status
	cancelled []string
	err       error
}

func (m *mockTasks) Submit(_ context.Context, req task.SubmitRequest) (*task.Task, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.submitted = append(m.submitted, req)
	return &task.Task{ID: "t1", Title: req.Title, Type: req.Type, State: task.StateAssigned, ActorID: "a1"}, nil
}

func (m *mockTasks) GetStatus(_ context.Context, id string) (task.Status, error) {
	st, ok := m.statuses[id]
	if !ok {
		return task.Status{}, domain.ErrNotFound
	}
	return st, nil
}

func (m *mockTasks) Cancel(_ context.Context, id string) error {
	if _, ok := m.statuses[id]; !ok {
		return domain.ErrNotFound
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

type mockActors []actor.Actor

func (m mockActors) List() []actor.Actor { return m }

type mockDiffs struct{}

func (mockDiffs) Compute(_ context.Context, before, after string) (diff.Result, error) {
	if before == after {
		return diff.Result{Granularity: diff.GranularitySentence}, nil
	}
	return diff.Result{
		Granularity: diff.GranularitySentence,
		Changes:     []diff.Change{{Kind: diff.KindModify, Before: before, After: after}},
	}, nil
}

func callTool(t *testing.T, s *rfmcp.Server, name string, args map[string]any) *mcplib.CallToolResult {
	t.Helper()
	tool, ok := s.MCPServer().ListTools()[name]
	if !ok {
		t.Fatalf("%s tool not found", name)
	}
	result, err := tool.Handler(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	})
	if err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return result
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	text, ok := result.Content[0].(mcplib.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	return text.Text
}

// --- Tests ---

func TestNewServer(t *testing.T) {
	s := rfmcp.NewServer(rfmcp.ServerConfig{Addr: ":3001", Name: "test-server", Version: "0.1.0"}, rfmcp.ServerDeps{})
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	if s.MCPServer() == nil {
		t.Fatal("MCPServer() returned nil")
	}
}

func TestServerStartStop(t *testing.T) {
	s := rfmcp.NewServer(rfmcp.ServerConfig{Addr: "127.0.0.1:0", Name: "test-server", Version: "0.1.0"}, rfmcp.ServerDeps{})

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if s.Addr() == "" {
		t.Fatal("expected bound address")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestToolRegistration(t *testing.T) {
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{})

	tools := s.MCPServer().ListTools()
	expected := map[string]bool{
		"submit_task":     false,
		"get_task_status": false,
		"cancel_task":     false,
		"list_actors":     false,
		"compute_diff":    false,
	}
	if len(tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(tools))
	}
	for name := range tools {
		if _, ok := expected[name]; ok {
			expected[name] = true
		} else {
			t.Errorf("unexpected tool: %s", name)
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("expected tool %q not registered", name)
		}
	}
}

func TestHandleSubmitTask(t *testing.T) {
	tasks := &mockTasks{}
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{Tasks: tasks})

	result := callTool(t, s, "submit_task", map[string]any{
		"title":    "Launch post",
		"type":     "content",
		"content":  "We shipped.",
		"priority": "high",
	})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	var st task.Status
	if err := json.Unmarshal([]byte(resultText(t, result)), &st); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if st.ID != "t1" || st.State != task.StateAssigned {
		t.Fatalf("unexpected status %+v", st)
	}
	if len(tasks.submitted) != 1 || tasks.submitted[0].Priority != task.PriorityHigh {
		t.Fatalf("unexpected submission %+v", tasks.submitted)
	}
	if tasks.submitted[0].Input.Content != "We shipped." {
		t.Fatal("content not forwarded")
	}
}

func TestHandleSubmitTaskErrors(t *testing.T) {
	tests := []struct {
		name  string
		tasks *mockTasks
		args  map[string]any
	}{
		{"bad priority", &mockTasks{}, map[string]any{"title": "a", "type": "content", "content": "b", "priority": "asap"}},
		{"service error", &mockTasks{err: errors.New("boom")}, map[string]any{"title": "a", "type": "content", "content": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{Tasks: tt.tasks})
			if result := callTool(t, s, "submit_task", tt.args); !result.IsError {
				t.Fatal("expected error result")
			}
		})
	}
}

func TestHandleGetTaskStatus(t *testing.T) {
	tasks := &mockTasks{statuses: map[string]task.Status{
		"t9": {ID: "t9", State: task.StateCompleted, Output: &task.Output{Decision: "approve", Score: 90}},
	}}
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{Tasks: tasks})

	result := callTool(t, s, "get_task_status", map[string]any{"task_id": "t9"})
	if result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	var st task.Status
	if err := json.Unmarshal([]byte(resultText(t, result)), &st); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if st.State != task.StateCompleted || st.Output.Decision != "approve" {
		t.Fatalf("unexpected status %+v", st)
	}

	if result := callTool(t, s, "get_task_status", nil); !result.IsError {
		t.Fatal("expected error result for missing task_id")
	}
	if result := callTool(t, s, "get_task_status", map[string]any{"task_id": "nope"}); !result.IsError {
		t.Fatal("expected error result for unknown task")
	}
}

func TestHandleCancelTask(t *testing.T) {
	tasks := &mockTasks{statuses: map[string]task.Status{"t1": {ID: "t1", State: task.StateInProgress}}}
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{Tasks: tasks})

	if result := callTool(t, s, "cancel_task", map[string]any{"task_id": "t1"}); result.IsError {
		t.Fatalf("tool returned error: %v", result.Content)
	}
	if len(tasks.cancelled) != 1 {
		t.Fatal("cancel not forwarded")
	}
}

func TestHandleListActorsAndDiff(t *testing.T) {
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{
		Actors: mockActors{{ID: "a1", Name: "alice", Kind: actor.KindReviewer, Status: actor.StatusIdle}},
		Diffs:  mockDiffs{},
	})

	var actors []actor.Actor
	if err := json.Unmarshal([]byte(resultText(t, callTool(t, s, "list_actors", nil))), &actors); err != nil {
		t.Fatal(err)
	}
	if len(actors) != 1 || actors[0].Name != "alice" {
		t.Fatalf("unexpected actors %+v", actors)
	}

	result := callTool(t, s, "compute_diff", map[string]any{"before": "a.", "after": "b."})
	var out struct {
		Changes []diff.Change `json:"changes"`
		Stats   diff.Stats    `json:"stats"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Changes) != 1 || out.Stats.Modifies != 1 {
		t.Fatalf("unexpected diff %+v", out)
	}
}

func TestHandleNilDeps(t *testing.T) {
	s := rfmcp.NewServer(rfmcp.ServerConfig{Name: "test", Version: "0.1.0"}, rfmcp.ServerDeps{})
	for _, name := range []string{"submit_task", "get_task_status", "cancel_task", "list_actors", "compute_diff"} {
		if result := callTool(t, s, name, map[string]any{"task_id": "x"}); !result.IsError {
			t.Errorf("%s: expected error result when deps are nil", name)
		}
	}
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"bearer", "secret", "Bearer secret", http.StatusOK},
		{"plain", "secret", "secret", http.StatusOK},
		{"wrong", "secret", "Bearer nope", http.StatusForbidden},
		{"api key header", "secret", "X-API-Key: secret", http.StatusOK},
		{"wrong api key header", "secret", "X-API-Key: nope", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", http.NoBody)
			if key, ok := strings.CutPrefix(tt.header, "X-API-Key: "); ok {
				req.Header.Set("X-API-Key", key)
			} else if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			rfmcp.AuthMiddleware(tt.key, ok).ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}
