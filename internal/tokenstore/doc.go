// Package tokenstore persists the access/refresh credential pair.
//
// A Store reads and writes the pair as one unit. KVStore implements Store on
// top of a two-key KV backend:
//   - File: local file with atomic writes, 0600 permissions and optional
//     passphrase encryption (argon2id + XChaCha20-Poly1305)
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential
//     Manager, Linux Secret Service)
//   - Env: read-only environment variables (requires external secret management)
//
// Token refresh and sign-in require writable storage (file or keyring). Env
// storage only supports static access tokens.
package tokenstore
