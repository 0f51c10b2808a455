package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ReviewForge/internal/domain"
	"github.com/Strob0t/ReviewForge/internal/domain/actor"
	"github.com/Strob0t/ReviewForge/internal/domain/capability"
	"github.com/Strob0t/ReviewForge/internal/domain/event"
)

func TestRegisterValidation(t *testing.T) {
	f := newFixture()
	rh := ReviewerHandler{Reviewer: fixedReviewer(80)}
	review := capability.Of(capability.Review)

	tests := []struct {
		name    string
		req     actor.RegisterRequest
		handler Handler
		wantErr error
	}{
		{"missing name", actor.RegisterRequest{Kind: actor.KindReviewer, Capabilities: review}, rh, actor.ErrNameRequired},
		{"invalid kind", actor.RegisterRequest{Name: "a", Kind: "robot", Capabilities: review}, rh, actor.ErrInvalidKind},
		{"no capabilities", actor.RegisterRequest{Name: "a", Kind: actor.KindReviewer}, rh, actor.ErrNoCapability},
		{"nil handler", actor.RegisterRequest{Name: "a", Kind: actor.KindReviewer, Capabilities: review}, nil, errNilHandler},
		{"kind mismatch", actor.RegisterRequest{Name: "a", Kind: actor.KindProducer, Capabilities: capability.Of(capability.DraftRevision)}, rh, domain.ErrValidation},
		{"unknown parent", actor.RegisterRequest{Name: "a", Kind: actor.KindReviewer, Capabilities: review, ParentID: "nope"}, rh, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.Register(context.Background(), tt.req, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if len(f.registry.List()) != 0 {
		t.Fatal("invalid registrations must not be stored")
	}
}

func TestRegisterDispatcherWithoutHandler(t *testing.T) {
	f := newFixture()
	a, err := f.registry.Register(context.Background(), actor.RegisterRequest{
		Name:         "director",
		Kind:         actor.KindDispatcher,
		Capabilities: capability.Of(capability.Dispatch),
	}, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if a.Status != actor.StatusIdle {
		t.Fatalf("status = %s, want idle", a.Status)
	}
	if got := f.registry.Find(capability.Of(capability.Dispatch), false); len(got) != 0 {
		t.Fatalf("dispatcher must not be routable, got %d", len(got))
	}
}

func TestRegisterPersistsAndPublishes(t *testing.T) {
	f := newFixture()
	id := f.addReviewer(t, "r1", fixedReviewer(80))

	stored, err := f.store.GetActor(context.Background(), id)
	if err != nil {
		t.Fatalf("stored actor: %v", err)
	}
	if stored.Name != "r1" {
		t.Fatalf("stored name = %q", stored.Name)
	}
	if f.hub.count(string(event.TypeActorRegistered)) != 1 {
		t.Fatal("expected one actor.registered event")
	}
}

func TestFindSuperset(t *testing.T) {
	f := newFixture()
	content := f.addReviewer(t, "content", fixedReviewer(80), capability.ContentReview)
	plain := f.addReviewer(t, "plain", fixedReviewer(80))
	code, err := f.registry.Register(context.Background(), actor.RegisterRequest{
		Name:         "code",
		Kind:         actor.KindReviewer,
		Capabilities: capability.Of(capability.Review, capability.CodeReview).WithMaxParallelReviews(4),
	}, ReviewerHandler{Reviewer: fixedReviewer(80)})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		required capability.Set
		want     []string
	}{
		{"any reviewer", capability.Of(capability.Review), []string{content, plain, code.ID}},
		{"content department", capability.Of(capability.Review, capability.ContentReview), []string{content}},
		{"limit satisfied", capability.Of(capability.Review).WithMaxParallelReviews(2), []string{code.ID}},
		{"limit too high", capability.Of(capability.Review).WithMaxParallelReviews(8), nil},
		{"missing flag", capability.Of(capability.Summarize), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.registry.Find(tt.required, true)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d actors, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("position %d = %s, want %s", i, got[i].Name, tt.want[i])
				}
			}
		})
	}
}

func TestFindTieBreak(t *testing.T) {
	f := newFixture()
	a := f.addReviewer(t, "a", fixedReviewer(80))
	b := f.addReviewer(t, "b", fixedReviewer(80))
	c := f.addReviewer(t, "c", fixedReviewer(80))
	ctx := context.Background()
	req := capability.Of(capability.Review)

	order := func() []string {
		var ids []string
		for _, x := range f.registry.Find(req, true) {
			ids = append(ids, x.ID)
		}
		return ids
	}

	if got := order(); got[0] != a || got[1] != b || got[2] != c {
		t.Fatalf("equal actors must be ordered by registration, got %v", got)
	}

	// a completes a task: fewer completions win, so a drops to the end.
	if err := f.registry.Reserve(ctx, a); err != nil {
		t.Fatal(err)
	}
	f.registry.Release(ctx, a, Outcome{Counted: true, Success: true, Latency: time.Millisecond})
	if got := order(); got[0] != b || got[1] != c || got[2] != a {
		t.Fatalf("after completion got %v", got)
	}

	// b fails a task: b and c both have no completions and a zero success
	// rate, so registration order still decides.
	if err := f.registry.Reserve(ctx, b); err != nil {
		t.Fatal(err)
	}
	f.registry.Release(ctx, b, Outcome{Counted: true, Success: false})
	b2, _ := f.registry.Get(b)
	if b2.Stats.TasksFailed != 1 {
		t.Fatalf("stats not recorded: %+v", b2.Stats)
	}
	if got := order(); got[0] != b || got[1] != c || got[2] != a {
		t.Fatalf("after failure got %v", got)
	}
}

func TestFindExcludesBusyAndOffline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := f.addReviewer(t, "a", fixedReviewer(80))
	b := f.addReviewer(t, "b", fixedReviewer(80))
	req := capability.Of(capability.Review)

	if err := f.registry.Reserve(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Retire(ctx, b); err != nil {
		t.Fatal(err)
	}

	if got := f.registry.Find(req, true); len(got) != 0 {
		t.Fatalf("excludeBusy returned %d actors", len(got))
	}
	got := f.registry.Find(req, false)
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("offline actors must never be returned, got %+v", got)
	}
}

func TestReserveMutualExclusion(t *testing.T) {
	f := newFixture()
	id := f.addReviewer(t, "only", fixedReviewer(80))

	const workers = 64
	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := f.registry.Reserve(context.Background(), id)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrAlreadyBusy):
				busy.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins.Load())
	}
	if busy.Load() != workers-1 {
		t.Fatalf("busy = %d, want %d", busy.Load(), workers-1)
	}
}

func TestAcquireConcurrentNeverDoubleBooks(t *testing.T) {
	f := newFixture()
	const actors = 5
	for i := range actors {
		f.addReviewer(t, string(rune('a'+i)), fixedReviewer(80))
	}

	const callers = 20
	var mu sync.Mutex
	owners := map[string]int{}
	var failures atomic.Int32
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.registry.Acquire(context.Background(), capability.Of(capability.Review), 5)
			if err != nil {
				if !errors.Is(err, domain.ErrRoutingFailure) {
					t.Errorf("unexpected error: %v", err)
				}
				failures.Add(1)
				return
			}
			mu.Lock()
			owners[got.Actor.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(owners) != actors {
		t.Fatalf("reserved %d distinct actors, want %d", len(owners), actors)
	}
	for id, n := range owners {
		if n != 1 {
			t.Fatalf("actor %s reserved %d times", id, n)
		}
	}
	if failures.Load() != callers-actors {
		t.Fatalf("failures = %d, want %d", failures.Load(), callers-actors)
	}
}

func TestAcquireNBelowMinimumReleasesAll(t *testing.T) {
	f := newFixture()
	id := f.addReviewer(t, "lonely", fixedReviewer(80))

	_, err := f.registry.AcquireN(context.Background(), capability.Of(capability.Review), 3, 2, 2)
	if !errors.Is(err, domain.ErrRoutingFailure) {
		t.Fatalf("err = %v, want routing failure", err)
	}
	if st := f.statusOf(t, id); st != actor.StatusIdle {
		t.Fatalf("status = %s, partial reservation must be released", st)
	}
}

func TestReleaseFaultAndReset(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.addReviewer(t, "a", fixedReviewer(80))

	if err := f.registry.Reset(ctx, id); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("reset idle actor err = %v, want ErrConflict", err)
	}
	if err := f.registry.Reserve(ctx, id); err != nil {
		t.Fatal(err)
	}
	f.registry.Release(ctx, id, Outcome{Fault: true, Counted: true})
	if st := f.statusOf(t, id); st != actor.StatusError {
		t.Fatalf("status = %s, want error", st)
	}
	if got := f.registry.Find(capability.Of(capability.Review), true); len(got) != 0 {
		t.Fatal("errored actors must not be routable")
	}
	if err := f.registry.Reset(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if st := f.statusOf(t, id); st != actor.StatusIdle {
		t.Fatalf("status after reset = %s", st)
	}
}

func TestReleaseKeepsRetiredActorOffline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.addReviewer(t, "a", fixedReviewer(80))
	if err := f.registry.Reserve(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := f.registry.Retire(ctx, id); err != nil {
		t.Fatal(err)
	}
	// Still finishing reserved work: not resettable yet.
	if err := f.registry.Reset(ctx, id); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("reset retired busy actor err = %v, want ErrConflict", err)
	}
	f.registry.Release(ctx, id, Outcome{Counted: true, Success: true})
	if st := f.statusOf(t, id); st != actor.StatusOffline {
		t.Fatalf("status = %s, want offline", st)
	}
}

func TestResetStates(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture, id string)
		wantErr error
	}{
		{"idle", func(*fixture, string) {}, domain.ErrConflict},
		{"busy", func(f *fixture, id string) { _ = f.registry.Reserve(context.Background(), id) }, domain.ErrConflict},
		{"errored", func(f *fixture, id string) {
			_ = f.registry.Reserve(context.Background(), id)
			f.registry.Release(context.Background(), id, Outcome{Fault: true})
		}, nil},
		{"retired", func(f *fixture, id string) { _, _ = f.registry.Retire(context.Background(), id) }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := f.addReviewer(t, "a", fixedReviewer(80))
			tt.prepare(f, id)

			err := f.registry.Reset(context.Background(), id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("reset: %v", err)
			}
			if st := f.statusOf(t, id); st != actor.StatusIdle {
				t.Fatalf("status = %s, want idle", st)
			}
			if got := f.registry.Find(capability.Of(capability.Review), true); len(got) != 1 {
				t.Fatalf("reset actor must be routable again, found %d", len(got))
			}
		})
	}
}

func TestRegistryUnknownActor(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.registry.Reserve(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("reserve err = %v", err)
	}
	if _, err := f.registry.Get("ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get err = %v", err)
	}
	if _, err := f.registry.Retire(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("retire err = %v", err)
	}
}
