package tokenstore

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvKV provides read-only access to tokens stored in environment variables.
// Key "access_token" with prefix "BUDGETFLOW_AUTH_" maps to
// BUDGETFLOW_AUTH_ACCESS_TOKEN. Suitable for static tokens but not refresh
// (requires writable storage).
type EnvKV struct {
	prefix  string
	environ func(string) (string, bool)
}

// Compile-time check to ensure EnvKV implements KV
var _ KV = (*EnvKV)(nil)

// NewEnvKV creates an EnvKV reading variables with the given prefix.
func NewEnvKV(prefix string) (*EnvKV, error) {
	if prefix == "" {
		return nil, fmt.Errorf("environment prefix cannot be empty")
	}

	return &EnvKV{
		prefix:  prefix,
		environ: os.LookupEnv,
	}, nil
}

func (e *EnvKV) variable(key string) string {
	return e.prefix + strings.ToUpper(key)
}

// Get returns the token from the environment variable. Empty values count as absent.
func (e *EnvKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, ok := e.environ(e.variable(key))
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrNotFound
	}
	return strings.TrimSpace(value), nil
}

// Put is not supported for environment variables (they are read-only).
func (e *EnvKV) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.variable(key))
}

// Remove is not supported for environment variables (they are read-only).
func (e *EnvKV) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%w: environment variable %s", ErrReadOnly, e.variable(key))
}
