package tokenstore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealedMagic prefixes encrypted token files: magic | salt | nonce | ciphertext.
var sealedMagic = []byte("BFTK1")

const saltSize = 16

var errNotSealed = errors.New("file is not encrypted")

// sealer encrypts token files with a key derived from a passphrase.
type sealer struct {
	passphrase []byte

	mu       sync.Mutex
	lastSalt []byte
	lastKey  []byte
}

func newSealer(passphrase string) *sealer {
	return &sealer{passphrase: []byte(passphrase)}
}

// key derives the AEAD key for salt. The last derivation is cached since
// argon2id is deliberately slow and the salt only changes on rewrite.
func (s *sealer) key(salt []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastKey != nil && bytes.Equal(s.lastSalt, salt) {
		return s.lastKey
	}
	key := argon2.IDKey(s.passphrase, salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
	s.lastSalt = bytes.Clone(salt)
	s.lastKey = key
	return key
}

func (s *sealer) seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedMagic)+len(salt)+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, sealedMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, sealedMagic), nil
}

func (s *sealer) open(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, sealedMagic) {
		return nil, errNotSealed
	}
	data = data[len(sealedMagic):]

	if len(data) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("encrypted token file truncated")
	}
	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+chacha20poly1305.NonceSizeX]
	ciphertext := data[saltSize+chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, fmt.Errorf("decrypting token file (wrong passphrase?): %w", err)
	}
	return plaintext, nil
}
