package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// KVStore stores the credential pair under AccessTokenKey and RefreshTokenKey
// of a KV backend.
type KVStore struct {
	kv KV
	mu sync.RWMutex
}

// Compile-time check to ensure KVStore implements Store
var _ Store = (*KVStore)(nil)

// NewKVStore creates a KVStore backed by kv.
func NewKVStore(kv KV) (*KVStore, error) {
	if kv == nil {
		return nil, fmt.Errorf("missing key-value backend")
	}
	return &KVStore{kv: kv}, nil
}

// Get returns the stored pair. A pair with only one of the tokens present is
// returned as-is so callers can still use what is there.
func (s *KVStore) Get(ctx context.Context) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	access, err := s.lookup(ctx, AccessTokenKey)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := s.lookup(ctx, RefreshTokenKey)
	if err != nil {
		return Pair{}, err
	}

	pair := Pair{AccessToken: access, RefreshToken: refresh}
	if pair.IsZero() {
		return Pair{}, ErrNotFound
	}
	return pair, nil
}

func (s *KVStore) lookup(ctx context.Context, key string) (string, error) {
	value, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", &StorageError{Op: "get " + key, Err: err}
	}
	return value, nil
}

// Save writes both tokens as one unit. An empty refresh token removes the
// stored one.
func (s *KVStore) Save(ctx context.Context, pair Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if pair.AccessToken == "" {
		return ErrEmptyAccessToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	puts := map[string]string{AccessTokenKey: pair.AccessToken}
	var removes []string
	if pair.RefreshToken != "" {
		puts[RefreshTokenKey] = pair.RefreshToken
	} else {
		removes = append(removes, RefreshTokenKey)
	}

	if batch, ok := s.kv.(BatchKV); ok {
		if err := batch.Apply(ctx, puts, removes); err != nil {
			return &StorageError{Op: "save", Err: err}
		}
		return nil
	}

	// Sequential backends: remember the previous access token so a failed
	// refresh token write can be undone.
	previous, prevErr := s.kv.Get(ctx, AccessTokenKey)

	if err := s.kv.Put(ctx, AccessTokenKey, pair.AccessToken); err != nil {
		return &StorageError{Op: "save " + AccessTokenKey, Err: err}
	}

	var err error
	if pair.RefreshToken != "" {
		err = s.kv.Put(ctx, RefreshTokenKey, pair.RefreshToken)
	} else {
		err = s.kv.Remove(ctx, RefreshTokenKey)
	}
	if err != nil {
		s.rollbackAccessToken(ctx, previous, prevErr)
		return &StorageError{Op: "save " + RefreshTokenKey, Err: err}
	}

	return nil
}

// rollbackAccessToken restores the access token observed before a failed Save.
func (s *KVStore) rollbackAccessToken(ctx context.Context, previous string, prevErr error) {
	// Restore even if the caller's context was cancelled mid-write
	ctx = context.WithoutCancel(ctx)

	switch {
	case prevErr == nil:
		_ = s.kv.Put(ctx, AccessTokenKey, previous)
	case errors.Is(prevErr, ErrNotFound):
		_ = s.kv.Remove(ctx, AccessTokenKey)
	}
}

// Clear removes both tokens.
func (s *KVStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if batch, ok := s.kv.(BatchKV); ok {
		if err := batch.Apply(ctx, nil, []string{AccessTokenKey, RefreshTokenKey}); err != nil {
			return &StorageError{Op: "clear", Err: err}
		}
		return nil
	}

	// Refresh token first: a half-cleared store must not keep a usable refresh token
	var errs []error
	for _, key := range []string{RefreshTokenKey, AccessTokenKey} {
		if err := s.kv.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	if len(errs) > 0 {
		return &StorageError{Op: "clear", Err: errors.Join(errs...)}
	}
	return nil
}
