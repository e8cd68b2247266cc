package tokenstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// KeyringKV provides OS-native secure credential storage for tokens.
// Uses macOS Keychain, Windows Credential Manager, or Linux Secret Service.
// Each key is stored as its own entry: service / "<user>:<key>".
type KeyringKV struct {
	service string
	user    string
}

// Compile-time check to ensure KeyringKV implements KV
var _ KV = (*KeyringKV)(nil)

// NewKeyringKV creates a KeyringKV for the OS-native credential storage
// using the given service and user identifiers.
func NewKeyringKV(service, user string) (*KeyringKV, error) {
	if service == "" {
		return nil, fmt.Errorf("service cannot be empty")
	}
	if user == "" {
		return nil, fmt.Errorf("user cannot be empty")
	}

	return &KeyringKV{
		service: service,
		user:    user,
	}, nil
}

func (k *KeyringKV) account(key string) string {
	return k.user + ":" + key
}

// Get returns the value from the system keyring. Empty entries count as absent.
func (k *KeyringKV) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	value, err := keyring.Get(k.service, k.account(key))
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", ErrNotFound
	}

	return value, nil
}

// Put persists the value to the system keyring, overwriting any existing value.
func (k *KeyringKV) Put(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return keyring.Set(k.service, k.account(key), value)
}

// Remove deletes the keyring entry if it exists.
func (k *KeyringKV) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := keyring.Delete(k.service, k.account(key))
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
