// Package sync owns the authoritative in-memory note list for a page
// and decides whether shared or local state is trusted. The shared
// store wins whenever it is reachable; the first remote failure
// degrades the page to local-only mode for the rest of the session.
package sync

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fclairamb/pinnotes/internal/apperrors"
	"github.com/fclairamb/pinnotes/internal/note"
	"github.com/fclairamb/pinnotes/internal/remote"
	"github.com/fclairamb/pinnotes/internal/snapshot"
)

// DefaultRefreshInterval is the fixed period between silent background
// refreshes while the shared store is trusted.
const DefaultRefreshInterval = 12 * time.Second

// Mode is the per-session sync mode of a page. The only transition
// after initialization is ModeShared -> ModeLocal; a degraded page
// never returns to shared within the same session.
type Mode int

// Sync modes.
const (
	ModeInit Mode = iota
	ModeShared
	ModeLocal
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeShared:
		return "shared"
	case ModeLocal:
		return "local"
	default:
		return "init"
	}
}

// RemoteService is the shared-store surface the coordinator needs.
// *remote.Client implements it.
type RemoteService interface {
	List(ctx context.Context, page string) ([]note.Note, error)
	Mutate(ctx context.Context, m remote.Mutation) ([]note.Note, error)
}

// Hint strings surfaced to the presentation layer.
const (
	hintConnecting  = "Connecting to shared notes..."
	hintSynced      = "Shared notes synced."
	hintListFailed  = "Shared notes unavailable. Using local notes in this browser."
	hintWriteFailed = "Could not update shared notes. Switched to local notes."
	hintSaved       = "Note saved."
	hintUpdated     = "Note updated."
	hintDeleted     = "Note deleted."
	hintCleared     = "All notes cleared. Click image to create a new pinned note."
)

// Coordinator is the sync/fallback state machine for one page section.
// It exclusively owns the page's note collection; no other component
// mutates it directly.
type Coordinator struct {
	pageKey         string
	remote          RemoteService
	local           *snapshot.Store
	logger          *slog.Logger
	refreshInterval time.Duration
	now             func() time.Time

	mu          sync.Mutex
	mode        Mode
	notes       []note.Note
	editing     bool
	gen         uint64 // bumped on every state adoption; guards stale refreshes
	hint        string
	hintWarning bool
}

// Option configures the Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithRefreshInterval overrides the background refresh period.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.refreshInterval = d
	}
}

// WithNow sets the clock, used by tests for deterministic timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a coordinator for one page.
func New(pageKey string, remoteSvc RemoteService, local *snapshot.Store, opts ...Option) *Coordinator {
	coord := &Coordinator{
		pageKey:         note.NormalizePageKey(pageKey),
		remote:          remoteSvc,
		local:           local,
		logger:          slog.Default(),
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
		mode:            ModeInit,
		notes:           []note.Note{},
		hint:            hintConnecting,
	}

	for _, opt := range opts {
		opt(coord)
	}

	return coord
}

// Initialize loads the local snapshot first so there is content before
// any network round trip, then attempts one remote list. On success
// the remote result replaces local state and is persisted; on failure
// the page degrades to local mode keeping the snapshot content.
// Returns the resulting mode; it never fails.
func (c *Coordinator) Initialize(ctx context.Context) Mode {
	c.mu.Lock()
	c.notes = c.local.Read(ctx, c.pageKey)
	c.setHint(hintConnecting, false)
	c.mu.Unlock()

	shared, err := c.remote.List(ctx, c.pageKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.degrade(ctx, hintListFailed, err)
		return c.mode
	}

	c.mode = ModeShared
	c.adopt(ctx, shared)
	c.setHint(hintSynced, false)
	c.logger.InfoContext(ctx, "shared notes active", "page", c.pageKey, "count", len(shared))
	return c.mode
}

// Refresh re-reads the shared store. It is a no-op while degraded or
// while an editing session is open (to avoid clobbering unsaved
// input). A silent refresh leaves the hint untouched on success.
//
// The response is applied only if no other operation has changed state
// since the request was issued, so a slow refresh can never overwrite
// a newer mutation.
func (c *Coordinator) Refresh(ctx context.Context, silent bool) {
	c.mu.Lock()
	if c.mode != ModeShared || c.editing {
		c.mu.Unlock()
		return
	}
	issuedAt := c.gen
	c.mu.Unlock()

	shared, err := c.remote.List(ctx, c.pageKey)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeShared {
		return
	}
	if err != nil {
		c.degrade(ctx, hintListFailed, err)
		return
	}
	if c.gen != issuedAt {
		c.logger.DebugContext(ctx, "discarding stale refresh", "page", c.pageKey)
		return
	}

	c.adopt(ctx, shared)
	if !silent {
		c.setHint(hintSynced, false)
	}
}

// Add creates a note from a draft pin and text. The pin is clamped,
// the ID and timestamp are generated, and the author defaults to the
// anonymous name. Validation failures leave state untouched.
func (c *Coordinator) Add(ctx context.Context, text, author string, x, y float64) (note.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return note.Note{}, apperrors.ErrTextRequired
	}

	author = strings.TrimSpace(author)
	newNote := note.Note{
		ID:        note.NewID(),
		Text:      text,
		Author:    author,
		Pin:       note.ClampPin(x, y),
		CreatedAt: note.NowISO(c.now()),
	}
	if newNote.Author == "" {
		newNote.Author = note.DefaultAuthor
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rememberAuthor(ctx, author)
	err := c.mutate(ctx,
		remote.Mutation{Page: c.pageKey, Action: remote.ActionAdd, Note: &newNote},
		func(notes []note.Note) []note.Note {
			return append(notes, newNote)
		})
	if err != nil {
		return note.Note{}, err
	}

	c.setHint(hintSaved, false)
	return newNote, nil
}

// Update rewrites a note's text (and optionally author). The update
// timestamp replaces createdAt, matching the shared store's behavior.
func (c *Coordinator) Update(ctx context.Context, id, text, author string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.ErrNoteIDRequired
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return apperrors.ErrTextRequired
	}
	author = strings.TrimSpace(author)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rememberAuthor(ctx, author)
	updatedAt := note.NowISO(c.now())
	err := c.mutate(ctx,
		remote.Mutation{Page: c.pageKey, Action: remote.ActionUpdate, ID: id, Text: text, Author: author},
		func(notes []note.Note) []note.Note {
			for i := range notes {
				if notes[i].ID != id {
					continue
				}
				notes[i].Text = text
				if author != "" {
					notes[i].Author = author
				}
				notes[i].CreatedAt = updatedAt
			}
			return notes
		})
	if err != nil {
		return err
	}

	c.setHint(hintUpdated, false)
	return nil
}

// Delete removes one note by ID.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return apperrors.ErrNoteIDRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.mutate(ctx,
		remote.Mutation{Page: c.pageKey, Action: remote.ActionDelete, ID: id},
		func(notes []note.Note) []note.Note {
			kept := notes[:0]
			for _, n := range notes {
				if n.ID != id {
					kept = append(kept, n)
				}
			}
			return kept
		})
	if err != nil {
		return err
	}

	c.setHint(hintDeleted, false)
	return nil
}

// Clear empties the page's note collection, remotely when shared and
// always in the local snapshot.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.mutate(ctx,
		remote.Mutation{Page: c.pageKey, Action: remote.ActionClear},
		func([]note.Note) []note.Note {
			return []note.Note{}
		})
	if err != nil {
		return err
	}

	c.local.Clear(ctx, c.pageKey)
	c.setHint(hintCleared, false)
	return nil
}

// mutate runs one mutation through the current mode. While shared, the
// remote call goes first and its returned list is adopted verbatim (no
// merge with optimistic state); on failure the page degrades and the
// mutation is applied locally instead. While degraded, the mutation is
// applied locally with no remote call. Caller must hold c.mu.
func (c *Coordinator) mutate(ctx context.Context, m remote.Mutation, applyLocal func([]note.Note) []note.Note) error {
	if c.mode == ModeShared {
		shared, err := c.remote.Mutate(ctx, m)
		if err == nil {
			c.adopt(ctx, shared)
			return nil
		}
		c.degrade(ctx, hintWriteFailed, err)
	}

	c.notes = applyLocal(c.notes)
	c.gen++
	c.local.Write(ctx, c.pageKey, c.notes)
	return nil
}

// adopt replaces the in-memory list with normalized remote state and
// persists it to the snapshot. The whole page list is the unit of
// consistency; there is no field-level merge. Caller must hold c.mu.
func (c *Coordinator) adopt(ctx context.Context, notes []note.Note) {
	if notes == nil {
		notes = []note.Note{}
	}
	c.notes = notes
	c.gen++
	c.local.Write(ctx, c.pageKey, c.notes)
}

// degrade switches the page to local-only mode. One-way for the
// session. Caller must hold c.mu.
func (c *Coordinator) degrade(ctx context.Context, hint string, cause error) {
	c.mode = ModeLocal
	c.setHint(hint, true)
	c.logger.WarnContext(ctx, "degrading to local notes", "page", c.pageKey, "error", cause)
}

// rememberAuthor caches the last-used author name. Caller must hold c.mu.
func (c *Coordinator) rememberAuthor(ctx context.Context, author string) {
	if author != "" {
		c.local.SetAuthor(ctx, author)
	}
}

func (c *Coordinator) setHint(hint string, warning bool) {
	c.hint = hint
	c.hintWarning = warning
}

// BeginEditing marks an editing session open, suppressing background
// refreshes so unsaved input cannot be clobbered.
func (c *Coordinator) BeginEditing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = true
}

// EndEditing closes the editing session.
func (c *Coordinator) EndEditing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editing = false
}

// Mode returns the current sync mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// PageKey returns the normalized page key this coordinator owns.
func (c *Coordinator) PageKey() string {
	return c.pageKey
}

// Notes returns a copy of the current note list in storage order.
func (c *Coordinator) Notes() []note.Note {
	c.mu.Lock()
	defer c.mu.Unlock()
	notes := make([]note.Note, len(c.notes))
	copy(notes, c.notes)
	return notes
}

// State captures everything the presentation adapter needs.
type State struct {
	PageKey     string
	Notes       []note.Note
	Mode        Mode
	Hint        string
	HintWarning bool
	Editing     bool
}

// State returns a consistent snapshot of the coordinator's state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	notes := make([]note.Note, len(c.notes))
	copy(notes, c.notes)
	return State{
		PageKey:     c.pageKey,
		Notes:       notes,
		Mode:        c.mode,
		Hint:        c.hint,
		HintWarning: c.hintWarning,
		Editing:     c.editing,
	}
}

// Run drives the periodic background refresh until the context is
// canceled. The ticker is scoped to the context, so navigating away
// from a page section releases it.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "refresh loop started", "page", c.pageKey, "interval", c.refreshInterval)

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "refresh loop stopping", "page", c.pageKey)
			return nil
		case <-ticker.C:
			c.Refresh(ctx, true)
		}
	}
}
