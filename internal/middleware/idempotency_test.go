package middleware_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/middleware"
)

// mapCache is an in-memory cache.Cache for testing.
type mapCache struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string][]byte)}
}

func (m *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("backend down")
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mapCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mapCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

func makeTestHandler(counter *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*counter++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"call":%d}`, *counter)
	})
}

func post(h http.Handler, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency_NoHeader(t *testing.T) {
	counter := 0
	store := newMapCache()
	handler := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter))

	post(handler, "/test", "", "{}")
	post(handler, "/test", "", "{}")

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
	if store.len() != 0 {
		t.Fatalf("expected nothing stored, got %d entries", store.len())
	}
}

func TestIdempotency_SecondRequestReplays(t *testing.T) {
	counter := 0
	store := newMapCache()
	handler := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter))

	rec1 := post(handler, "/test", "key-2", `{"a":1}`)
	rec2 := post(handler, "/test", "key-2", `{"a":1}`)

	if counter != 1 {
		t.Fatalf("expected handler called once, got %d", counter)
	}
	if rec2.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec2.Code)
	}
	if rec2.Body.String() != rec1.Body.String() {
		t.Fatalf("replayed body = %q, want %q", rec2.Body.String(), rec1.Body.String())
	}
	if rec2.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatal("expected Idempotent-Replayed header on replay")
	}
}

func TestIdempotency_GETIgnored(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter))

	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/test", http.NoBody)
		req.Header.Set("Idempotency-Key", "key-get")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if counter != 2 {
		t.Fatalf("expected 2 calls, got %d", counter)
	}
}

func TestIdempotency_KeysScopedByPath(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter))

	post(handler, "/a", "shared", "{}")
	post(handler, "/b", "shared", "{}")
	post(handler, "/a", "other", "{}")

	if counter != 3 {
		t.Fatalf("expected 3 calls, got %d", counter)
	}
}

func TestIdempotency_BodyMismatch(t *testing.T) {
	counter := 0
	handler := middleware.Idempotency(newMapCache(), time.Hour)(makeTestHandler(&counter))

	post(handler, "/test", "key-m", `{"a":1}`)
	rec := post(handler, "/test", "key-m", `{"a":2}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if counter != 1 {
		t.Fatalf("expected 1 call, got %d", counter)
	}
}

func TestIdempotency_ServerErrorNotStored(t *testing.T) {
	calls := 0
	handler := middleware.Idempotency(newMapCache(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	post(handler, "/test", "key-5xx", "{}")
	post(handler, "/test", "key-5xx", "{}")

	if calls != 2 {
		t.Fatalf("expected 5xx to be retried, got %d calls", calls)
	}
}

func TestIdempotency_InFlightDuplicate(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	handler := middleware.Idempotency(newMapCache(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusAccepted)
	}))

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- post(handler, "/test", "key-busy", "{}") }()
	<-entered

	rec := post(handler, "/test", "key-busy", "{}")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight duplicate, got %d", rec.Code)
	}

	close(release)
	if first := <-done; first.Code != http.StatusAccepted {
		t.Fatalf("first request: expected 202, got %d", first.Code)
	}
}

func TestIdempotency_HandlerSeesBody(t *testing.T) {
	var got string
	handler := middleware.Idempotency(newMapCache(), time.Hour)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.WriteHeader(http.StatusOK)
	}))

	post(handler, "/test", "key-body", `{"x":"y"}`)
	if got != `{"x":"y"}` {
		t.Fatalf("handler body = %q", got)
	}
}

func TestIdempotency_LookupFailureRunsHandler(t *testing.T) {
	counter := 0
	store := newMapCache()
	store.failGet = true
	handler := middleware.Idempotency(store, time.Hour)(makeTestHandler(&counter))

	rec := post(handler, "/test", "key-err", "{}")
	if rec.Code != http.StatusCreated || counter != 1 {
		t.Fatalf("code=%d calls=%d, want 201 and 1", rec.Code, counter)
	}
}
