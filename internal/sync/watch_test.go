package sync

import (
	"context"
	"testing"
	"time"

	"github.com/fclairamb/pinnotes/internal/note"
)

// An external write to the snapshot file is picked up while degraded.
func TestWatchSnapshot_ReloadsExternalWrites(t *testing.T) {
	t.Parallel()
	local := newTestLocal(t)

	svc := &scriptedRemote{listFn: func(context.Context, string) ([]note.Note, error) {
		return nil, errNetwork
	}}

	coord := New("p1", svc, local)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord.Initialize(ctx)
	if coord.Mode() != ModeLocal {
		t.Fatalf("expected ModeLocal, got %s", coord.Mode())
	}

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- coord.WatchSnapshot(ctx)
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	local.Write(ctx, "p1", []note.Note{fixedNote("external", "written by another process")})

	deadline := time.After(3 * time.Second)
	for {
		notes := coord.Notes()
		if len(notes) == 1 && notes[0].ID == "external" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("snapshot change was not picked up, notes: %+v", coord.Notes())
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-watchDone:
		if err != nil {
			t.Errorf("WatchSnapshot returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WatchSnapshot did not stop after context cancellation")
	}
}
