package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
)

// FileKV provides atomic file-based token storage with secure permissions.
// All keys live in a single JSON document, so every change rewrites the file
// using temp file + rename for crash safety.
type FileKV struct {
	filePath string
	sealer   *sealer

	mu sync.Mutex
}

// Compile-time check to ensure FileKV implements BatchKV
var _ BatchKV = (*FileKV)(nil)

// FileOption configures a FileKV.
type FileOption func(*FileKV)

// WithPassphrase encrypts the token file with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(f *FileKV) {
		if passphrase != "" {
			f.sealer = newSealer(passphrase)
		}
	}
}

// NewFileKV creates a FileKV for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileKV(filePath string, opts ...FileOption) (*FileKV, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	f := &FileKV{filePath: filePath}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Get returns the value stored under key.
func (f *FileKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok || value == "" {
		return "", ErrNotFound
	}
	return value, nil
}

// Put stores a single key.
func (f *FileKV) Put(ctx context.Context, key, value string) error {
	return f.Apply(ctx, map[string]string{key: value}, nil)
}

// Remove deletes a single key.
func (f *FileKV) Remove(ctx context.Context, key string) error {
	return f.Apply(ctx, nil, []string{key})
}

// Apply changes several keys in one atomic file write.
func (f *FileKV) Apply(ctx context.Context, puts map[string]string, removes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return err
	}

	maps.Copy(values, puts)
	for _, key := range removes {
		delete(values, key)
	}

	if len(values) == 0 {
		if err := os.Remove(f.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}

	return f.write(ctx, values)
}

// load reads the token document. A missing file is an empty document.
// Returns error if the file has insecure permissions.
func (f *FileKV) load() (map[string]string, error) {
	// Check file permissions before reading
	info, err := os.Stat(f.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	if f.sealer != nil {
		data, err = f.sealer.open(data)
		if errors.Is(err, errNotSealed) {
			return nil, fmt.Errorf("token file %s is not encrypted but a passphrase is configured", f.filePath)
		}
		if err != nil {
			return nil, err
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing token file %s: %w", f.filePath, err)
	}
	return values, nil
}

// write atomically saves the document using temp file + rename.
// Sets file permissions to 0600 (owner read/write only).
func (f *FileKV) write(ctx context.Context, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}
	if f.sealer != nil {
		if data, err = f.sealer.seal(data); err != nil {
			return err
		}
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	// Cleanup deferred for all exit paths
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if err := tempFile.Chmod(0600); err != nil {
		return err
	}
	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	// Atomic rename to final location
	return os.Rename(tempName, f.filePath)
}
