package sync

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fclairamb/pinnotes/internal/apperrors"
	"github.com/fclairamb/pinnotes/internal/note"
	"github.com/fclairamb/pinnotes/internal/remote"
	"github.com/fclairamb/pinnotes/internal/snapshot"
)

var errNetwork = errors.New("connection refused")

// scriptedRemote implements RemoteService with injectable behavior.
type scriptedRemote struct {
	listFn      func(ctx context.Context, page string) ([]note.Note, error)
	mutateFn    func(ctx context.Context, m remote.Mutation) ([]note.Note, error)
	listCalls   atomic.Int64
	mutateCalls atomic.Int64
}

func (r *scriptedRemote) List(ctx context.Context, page string) ([]note.Note, error) {
	r.listCalls.Add(1)
	if r.listFn == nil {
		return []note.Note{}, nil
	}
	return r.listFn(ctx, page)
}

func (r *scriptedRemote) Mutate(ctx context.Context, m remote.Mutation) ([]note.Note, error) {
	r.mutateCalls.Add(1)
	if r.mutateFn == nil {
		return []note.Note{}, nil
	}
	return r.mutateFn(ctx, m)
}

func newTestLocal(t *testing.T) *snapshot.Store {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	return store
}

func fixedNote(id, text string) note.Note {
	return note.Note{
		ID:        id,
		Text:      text,
		Author:    "Ana",
		Pin:       note.Pin{X: 0.2, Y: 0.3},
		CreatedAt: "2024-01-01T00:00:00.000Z",
	}
}

// Shared list reachable at startup: the remote result replaces local
// state and becomes the snapshot.
func TestInitialize_SharedWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	// Pre-existing local state that the remote must override.
	local.Write(ctx, "p1", []note.Note{fixedNote("stale", "old local note")})

	want := []note.Note{fixedNote("1", "hi")}
	svc := &scriptedRemote{listFn: func(context.Context, string) ([]note.Note, error) {
		return want, nil
	}}

	coord := New("p1", svc, local)
	if mode := coord.Initialize(ctx); mode != ModeShared {
		t.Fatalf("expected ModeShared, got %s", mode)
	}

	if got := coord.Notes(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected remote state adopted, got %+v", got)
	}
	if got := local.Read(ctx, "p1"); !reflect.DeepEqual(got, want) {
		t.Errorf("expected remote state persisted to snapshot, got %+v", got)
	}
}

// Remote down at startup with a snapshot present: degraded mode keeps
// the locally loaded note.
func TestInitialize_FallsBackToLocal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)
	local.Write(ctx, "p1", []note.Note{fixedNote("local-1", "kept")})

	svc := &scriptedRemote{listFn: func(context.Context, string) ([]note.Note, error) {
		return nil, errNetwork
	}}

	coord := New("p1", svc, local)
	if mode := coord.Initialize(ctx); mode != ModeLocal {
		t.Fatalf("expected ModeLocal, got %s", mode)
	}

	notes := coord.Notes()
	if len(notes) != 1 || notes[0].ID != "local-1" {
		t.Fatalf("expected the local note kept, got %+v", notes)
	}

	view := BuildView(ViewInput{State: coord.State()})
	if view.CountLabel != "1 note (local)" {
		t.Errorf("expected count label marked local, got %q", view.CountLabel)
	}
	if !view.HintWarn {
		t.Error("expected a warning hint after degrading")
	}
}

// A successful shared add adopts the server's list verbatim, not a
// merge of local and remote state.
func TestAdd_SharedAdoptsServerList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	serverList := []note.Note{fixedNote("1", "existing"), fixedNote("2", "fresh")}
	svc := &scriptedRemote{
		listFn: func(context.Context, string) ([]note.Note, error) {
			return []note.Note{fixedNote("1", "existing")}, nil
		},
		mutateFn: func(_ context.Context, m remote.Mutation) ([]note.Note, error) {
			if m.Action != remote.ActionAdd || m.Note == nil {
				t.Errorf("expected add mutation with note, got %+v", m)
			}
			return serverList, nil
		},
	}

	coord := New("p1", svc, local)
	coord.Initialize(ctx)

	if _, err := coord.Add(ctx, "fresh", "Ana", 0.5, 0.5); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if got := coord.Notes(); !reflect.DeepEqual(got, serverList) {
		t.Errorf("expected server list adopted verbatim, got %+v", got)
	}
	if coord.Mode() != ModeShared {
		t.Errorf("expected to stay shared, got %s", coord.Mode())
	}
}

// A failed shared add degrades and applies the note locally instead.
func TestAdd_FailureDegradesAndAppliesLocally(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	svc := &scriptedRemote{
		listFn: func(context.Context, string) ([]note.Note, error) {
			return []note.Note{fixedNote("1", "existing")}, nil
		},
		mutateFn: func(context.Context, remote.Mutation) ([]note.Note, error) {
			return nil, errNetwork
		},
	}

	coord := New("p1", svc, local)
	coord.Initialize(ctx)
	before := len(coord.Notes())

	added, err := coord.Add(ctx, "typed offline", "Ana", 0.4, 0.6)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if coord.Mode() != ModeLocal {
		t.Fatalf("expected ModeLocal after failed mutation, got %s", coord.Mode())
	}
	notes := coord.Notes()
	if len(notes) != before+1 {
		t.Fatalf("expected list to grow by exactly 1, got %d -> %d", before, len(notes))
	}

	persisted := local.Read(ctx, "p1")
	found := false
	for _, n := range persisted {
		if n.ID == added.ID {
			found = true
		}
	}
	if !found {
		t.Error("expected the new note persisted in the snapshot")
	}
}

// Once degraded, mutations stay local and no remote calls are made.
func TestMode_OneWayTransition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	svc := &scriptedRemote{listFn: func(context.Context, string) ([]note.Note, error) {
		return nil, errNetwork
	}}

	coord := New("p1", svc, local)
	coord.Initialize(ctx)
	if coord.Mode() != ModeLocal {
		t.Fatalf("expected ModeLocal, got %s", coord.Mode())
	}

	// Remote recovers, but the session stays degraded.
	svc.listFn = func(context.Context, string) ([]note.Note, error) {
		return []note.Note{fixedNote("1", "back online")}, nil
	}

	coord.Refresh(ctx, false)
	if coord.Mode() != ModeLocal {
		t.Error("expected refresh to stay a no-op while degraded")
	}

	if _, err := coord.Add(ctx, "still local", "", 0.1, 0.1); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if coord.Mode() != ModeLocal {
		t.Error("expected mode to remain local after a successful local mutation")
	}
	if got := svc.mutateCalls.Load(); got != 0 {
		t.Errorf("expected no remote mutate calls while degraded, got %d", got)
	}
}

// Clear empties the collection and removes the snapshot entry.
func TestClear_EmptiesEverywhere(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	svc := &scriptedRemote{
		listFn: func(context.Context, string) ([]note.Note, error) {
			return []note.Note{fixedNote("1", "a"), fixedNote("2", "b")}, nil
		},
		mutateFn: func(_ context.Context, m remote.Mutation) ([]note.Note, error) {
			if m.Action != remote.ActionClear {
				t.Errorf("expected clear action, got %s", m.Action)
			}
			return []note.Note{}, nil
		},
	}

	coord := New("p1", svc, local)
	coord.Initialize(ctx)

	if err := coord.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	if got := coord.Notes(); len(got) != 0 {
		t.Errorf("expected empty collection, got %d notes", len(got))
	}
	if got := local.Read(ctx, "p1"); len(got) != 0 {
		t.Errorf("expected empty snapshot, got %d notes", len(got))
	}
}

// Update while degraded rewrites text and bumps the timestamp.
func TestUpdate_LocalFallback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)
	local.Write(ctx, "p1", []note.Note{fixedNote("n1", "original")})

	svc := &scriptedRemote{listFn: func(context.Context, string) ([]note.Note, error) {
		return nil, errNetwork
	}}

	updatedAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	coord := New("p1", svc, local, WithNow(func() time.Time { return updatedAt }))
	coord.Initialize(ctx)

	if err := coord.Update(ctx, "n1", "rewritten", ""); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	notes := coord.Notes()
	if len(notes) != 1 {
		t.Fatalf("expected 1 note, got %d", len(notes))
	}
	if notes[0].Text != "rewritten" {
		t.Errorf("expected rewritten text, got %q", notes[0].Text)
	}
	if notes[0].Author != "Ana" {
		t.Errorf("expected author kept when empty, got %q", notes[0].Author)
	}
	if notes[0].CreatedAt != note.NowISO(updatedAt) {
		t.Errorf("expected timestamp bumped, got %q", notes[0].CreatedAt)
	}
}

func TestMutations_RejectInvalidInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := New("p1", &scriptedRemote{}, newTestLocal(t))
	coord.Initialize(ctx)

	if _, err := coord.Add(ctx, "   ", "", 0.5, 0.5); !errors.Is(err, apperrors.ErrTextRequired) {
		t.Errorf("expected ErrTextRequired, got %v", err)
	}
	if err := coord.Update(ctx, "", "text", ""); !errors.Is(err, apperrors.ErrNoteIDRequired) {
		t.Errorf("expected ErrNoteIDRequired, got %v", err)
	}
	if err := coord.Delete(ctx, "  "); !errors.Is(err, apperrors.ErrNoteIDRequired) {
		t.Errorf("expected ErrNoteIDRequired, got %v", err)
	}
}

// Add clamps out-of-range draft pins instead of rejecting them.
func TestAdd_ClampsDraftPin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := New("p1", &scriptedRemote{
		mutateFn: func(_ context.Context, m remote.Mutation) ([]note.Note, error) {
			return []note.Note{*m.Note}, nil
		},
	}, newTestLocal(t))
	coord.Initialize(ctx)

	added, err := coord.Add(ctx, "clamped", "", -3, 1.5)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if added.Pin != (note.Pin{X: 0, Y: 1}) {
		t.Errorf("expected pin clamped to (0,1), got %+v", added.Pin)
	}
	if added.Author != note.DefaultAuthor {
		t.Errorf("expected default author, got %q", added.Author)
	}
}

// An open editing session suppresses background refresh.
func TestRefresh_SuppressedWhileEditing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	coord := New("p1", &scriptedRemote{}, newTestLocal(t))
	svc := coord.remote.(*scriptedRemote)

	coord.Initialize(ctx)
	baseline := svc.listCalls.Load()

	coord.BeginEditing()
	coord.Refresh(ctx, true)
	if got := svc.listCalls.Load(); got != baseline {
		t.Errorf("expected no list call while editing, got %d extra", got-baseline)
	}

	coord.EndEditing()
	coord.Refresh(ctx, true)
	if got := svc.listCalls.Load(); got != baseline+1 {
		t.Errorf("expected one list call after editing ended, got %d extra", got-baseline)
	}
}

// A refresh response that arrives after a newer mutation is discarded
// instead of overwriting the mutation's result.
func TestRefresh_StaleResponseDiscarded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	local := newTestLocal(t)

	listStarted := make(chan struct{})
	listRelease := make(chan struct{})
	var listCount atomic.Int64

	want := []note.Note{fixedNote("added", "the mutation result")}
	svc := &scriptedRemote{
		listFn: func(context.Context, string) ([]note.Note, error) {
			if listCount.Add(1) == 1 {
				// Initialize's list returns immediately.
				return []note.Note{}, nil
			}
			close(listStarted)
			<-listRelease
			return []note.Note{fixedNote("stale", "slow refresh payload")}, nil
		},
		mutateFn: func(context.Context, remote.Mutation) ([]note.Note, error) {
			return want, nil
		},
	}

	coord := New("p1", svc, local)
	coord.Initialize(ctx)

	refreshDone := make(chan struct{})
	go func() {
		defer close(refreshDone)
		coord.Refresh(ctx, true)
	}()

	<-listStarted
	if _, err := coord.Add(ctx, "the mutation result", "Ana", 0.5, 0.5); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	close(listRelease)
	<-refreshDone

	if got := coord.Notes(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected stale refresh discarded, got %+v", got)
	}
}

// The refresh loop stops with its context.
func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	coord := New("p1", &scriptedRemote{}, newTestLocal(t), WithRefreshInterval(time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	coord.Initialize(ctx)

	done := make(chan error, 1)
	go func() {
		done <- coord.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
