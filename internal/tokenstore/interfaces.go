package tokenstore

import "context"

// Keys under which the credential pair is stored in a KV backend.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Store reads and writes the credential pair to persistent storage.
//
// Implementations must be safe for concurrent use. Save and Clear affect both
// tokens as one unit: a failed Save never leaves a mixed pair behind.
type Store interface {
	// Get returns the stored pair. Returns ErrNotFound if no tokens are stored.
	Get(ctx context.Context) (Pair, error)

	// Save persists the pair, replacing any stored tokens.
	Save(ctx context.Context, pair Pair) error

	// Clear removes both tokens. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// KV is the key-value capability a storage backend provides.
type KV interface {
	// Get returns the value for key. Returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key string) (string, error)

	// Put stores value under key, overwriting any existing value.
	Put(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// BatchKV is implemented by backends that can apply several changes in a
// single atomic write.
type BatchKV interface {
	KV

	// Apply stores puts and deletes removes in one atomic operation.
	Apply(ctx context.Context, puts map[string]string, removes []string) error
}
