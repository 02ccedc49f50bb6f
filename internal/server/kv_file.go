package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

const (
	dirPerm  = 0750
	filePerm = 0600
)

// FileKV is a file-per-key backend for local and development use.
type FileKV struct {
	rootPath string
	mu       sync.Mutex
	logger   *slog.Logger
}

// FileKVOption configures FileKV.
type FileKVOption func(*FileKV)

// WithFileKVLogger sets a custom logger.
func WithFileKVLogger(l *slog.Logger) FileKVOption {
	return func(kv *FileKV) {
		kv.logger = l
	}
}

// NewFileKV creates a file-backed KV store rooted at the given directory.
func NewFileKV(path string, opts ...FileKVOption) (*FileKV, error) {
	kv := &FileKV{
		rootPath: path,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(kv)
	}

	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}

	return kv, nil
}

func (kv *FileKV) pathFor(key string) string {
	return filepath.Join(kv.rootPath, url.PathEscape(key))
}

// Get reads a key's value, or (nil, nil) when missing.
func (kv *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	data, err := os.ReadFile(kv.pathFor(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		kv.logger.DebugContext(ctx, "kv read failed", "key", key, "error", err)
		return nil, fmt.Errorf("read key %s: %w", key, err)
	}
	return data, nil
}

// Set writes a key's value.
func (kv *FileKV) Set(ctx context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := os.WriteFile(kv.pathFor(key), value, filePerm); err != nil {
		kv.logger.DebugContext(ctx, "kv write failed", "key", key, "error", err)
		return fmt.Errorf("write key %s: %w", key, err)
	}
	return nil
}

// Delete removes a key. Missing keys are not an error.
func (kv *FileKV) Delete(ctx context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if err := os.Remove(kv.pathFor(key)); err != nil && !os.IsNotExist(err) {
		kv.logger.DebugContext(ctx, "kv delete failed", "key", key, "error", err)
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}
