// Package server implements the shared note service: the HTTP contract
// the sync client consumes, backed by a key-value store holding one
// JSON-encoded note list per page under "notes:<pageKey>".
package server

import "context"

// notesKeyPrefix scopes KV entries to the notes collection.
const notesKeyPrefix = "notes:"

// KV abstracts the storage backend. Get returns (nil, nil) for a
// missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// notesKey builds the storage key for a page.
func notesKey(page string) string {
	return notesKeyPrefix + page
}
