// Package snapshot provides the local per-page fallback store. It is a
// best-effort cache: reads return an empty list on any storage error or
// malformed content, and write failures are swallowed. The in-memory
// note list owned by the coordinator remains the source of truth.
package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fclairamb/pinnotes/internal/note"
)

const (
	// pagePrefix keys per-page entries so distinct pages never collide.
	pagePrefix = "notes-"
	// authorFile is the single global entry for the last-used author name.
	authorFile = "author"

	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0600 // File permissions: rw-------
)

// Store persists per-page note snapshots under a directory.
type Store struct {
	rootPath string
	mu       sync.Mutex
	logger   *slog.Logger
	history  *history
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithGitHistory turns the store directory into a git repository and
// commits every snapshot write, keeping an inspectable history of
// local note state.
func WithGitHistory(authorName, authorEmail string) Option {
	return func(s *Store) {
		s.history = &history{name: authorName, email: authorEmail}
	}
}

// NewStore creates a snapshot store rooted at the given directory.
func NewStore(path string, opts ...Option) (*Store, error) {
	store := &Store{
		rootPath: path,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(store)
	}

	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, err
	}

	if store.history != nil {
		if err := store.history.open(path); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.rootPath
}

// PathForPage returns the snapshot file path for a page key. The name
// is derived deterministically so distinct pages never collide.
func (s *Store) PathForPage(pageKey string) string {
	return filepath.Join(s.rootPath, pagePrefix+url.PathEscape(pageKey)+".json")
}

// Read loads the snapshot for a page. It never fails the caller:
// missing files, unreadable files and malformed content all yield an
// empty list.
func (s *Store) Read(ctx context.Context, pageKey string) []note.Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.PathForPage(pageKey))
	if err != nil {
		s.logger.DebugContext(ctx, "snapshot read skipped", "page", pageKey, "error", err)
		return []note.Note{}
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		s.logger.DebugContext(ctx, "snapshot content malformed", "page", pageKey, "error", err)
		return []note.Note{}
	}

	return note.Normalize(items)
}

// Write persists the snapshot for a page. Quota and permission errors
// are swallowed; the caller's in-memory state stays authoritative.
func (s *Store) Write(ctx context.Context, pageKey string, notes []note.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if notes == nil {
		notes = []note.Note{}
	}
	data, err := json.Marshal(notes)
	if err != nil {
		s.logger.DebugContext(ctx, "snapshot marshal failed", "page", pageKey, "error", err)
		return
	}

	path := s.PathForPage(pageKey)
	if err := os.WriteFile(path, data, filePerm); err != nil {
		s.logger.DebugContext(ctx, "snapshot write failed", "page", pageKey, "error", err)
		return
	}

	s.commit(ctx, "snapshot "+pageKey)
	s.logger.DebugContext(ctx, "snapshot written", "page", pageKey, "count", len(notes))
}

// Clear removes the snapshot for a page.
func (s *Store) Clear(ctx context.Context, pageKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.PathForPage(pageKey)); err != nil && !os.IsNotExist(err) {
		s.logger.DebugContext(ctx, "snapshot clear failed", "page", pageKey, "error", err)
		return
	}

	s.commit(ctx, "clear "+pageKey)
}

// Author returns the last-used author name, or empty when none is stored.
func (s *Store) Author(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.rootPath, authorFile))
	if err != nil {
		s.logger.DebugContext(ctx, "author read skipped", "error", err)
		return ""
	}
	return note.CapAuthor(strings.TrimSpace(string(data)))
}

// SetAuthor stores the last-used author name, capped for persistence.
func (s *Store) SetAuthor(ctx context.Context, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = note.CapAuthor(name)
	if name == "" {
		return
	}
	path := filepath.Join(s.rootPath, authorFile)
	if err := os.WriteFile(path, []byte(name), filePerm); err != nil {
		s.logger.DebugContext(ctx, "author write failed", "error", err)
		return
	}

	s.commit(ctx, "author")
}

// commit records the current state when history mode is on. Failures
// are logged at debug level only; history is as best-effort as the
// snapshot itself. Caller must hold s.mu.
func (s *Store) commit(ctx context.Context, message string) {
	if s.history == nil {
		return
	}
	if err := s.history.commit(message); err != nil {
		s.logger.DebugContext(ctx, "history commit failed", "error", err)
	}
}
