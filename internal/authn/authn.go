// Package authn computes the keyed hashes that bind ledger events together.
//
// The key is fetched lazily from a keystore.Store on first use and cached.
// A failed fetch is not cached, so the next call retries.
package authn

import (
	"crypto/hmac"
	"crypto/sha256"
	"sync"

	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/keystore"
)

// DefaultKeyName is the keystore entry holding the ledger HMAC key.
const DefaultKeyName = "ledger-hmac"

// Size is the length of every MAC produced by an Authenticator.
const Size = sha256.Size

// Authenticator produces deterministic HMAC-SHA256 tags over a persisted key.
// Identical (key, data) always yields identical output, which is what lets
// the chain be re-derived from the log across restarts.
type Authenticator struct {
	store   keystore.Store
	keyName string

	mu  sync.Mutex
	key []byte
}

// New returns an Authenticator reading keyName from store.
// An empty keyName selects DefaultKeyName.
func New(store keystore.Store, keyName string) *Authenticator {
	if keyName == "" {
		keyName = DefaultKeyName
	}
	return &Authenticator{store: store, keyName: keyName}
}

// EnsureKey returns the secret, creating it on first use.
func (a *Authenticator) EnsureKey() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.key != nil {
		return a.key, nil
	}
	key, err := a.store.GetOrCreate(a.keyName)
	if err != nil {
		return nil, errs.New(errs.CodeKeyStore, "ensure_key", err)
	}
	if len(key) == 0 {
		return nil, errs.Newf(errs.CodeKeyStore, "ensure_key", "empty secret %q", a.keyName)
	}
	a.key = key
	return key, nil
}

// Authenticate returns HMAC-SHA256(key, data).
func (a *Authenticator) Authenticate(data []byte) ([]byte, error) {
	key, err := a.EnsureKey()
	if err != nil {
		return nil, err
	}
	m := hmac.New(sha256.New, key)
	m.Write(data)
	return m.Sum(nil), nil
}

// Chain returns Authenticate(prev ++ row). An empty prev is the genesis link.
func (a *Authenticator) Chain(prev, row []byte) ([]byte, error) {
	buf := make([]byte, 0, len(prev)+len(row))
	buf = append(buf, prev...)
	buf = append(buf, row...)
	return a.Authenticate(buf)
}
