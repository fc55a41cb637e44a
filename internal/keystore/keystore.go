// Package keystore persists the symmetric secrets the ledger authenticates
// with. Callers ask for a secret by name; it is created on first use and read
// back on every later call.
package keystore

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
)

// SecretSize is the length in bytes of every generated secret.
const SecretSize = 32

// ErrInvalidName is returned for names that cannot be used as a file name.
var ErrInvalidName = errors.New("keystore: invalid secret name")

// Store hands out named secrets, creating them when absent.
// Absence on first use is not an error; only real storage faults are.
type Store interface {
	GetOrCreate(name string) ([]byte, error)
}

// MemoryStore keeps secrets in process memory. Used by tests and by
// throwaway ledgers.
type MemoryStore struct {
	mu      sync.Mutex
	secrets map[string][]byte
	rand    io.Reader
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{secrets: make(map[string][]byte), rand: rand.Reader}
}

// Put installs a fixed secret under name, replacing any existing one.
func (m *MemoryStore) Put(name string, secret []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = append([]byte(nil), secret...)
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.secrets[name]; ok {
		return append([]byte(nil), s...), nil
	}
	s, err := newSecret(m.rand)
	if err != nil {
		return nil, err
	}
	m.secrets[name] = s
	return append([]byte(nil), s...), nil
}

func newSecret(r io.Reader) ([]byte, error) {
	s := make([]byte, SecretSize)
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, fmt.Errorf("keystore: generate secret: %w", err)
	}
	return s, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}
