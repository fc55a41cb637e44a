package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/roach88/logline/internal/keystore"
)

// SaltKeyName is the key store entry holding the redaction salt.
const SaltKeyName = "export-pii-salt"

// Redactor replaces personal names with salted SHA-256 digests. The same
// name always maps to the same digest under one salt, so redacted exports
// can still be grouped by customer.
type Redactor struct {
	salt []byte
}

// NewRedactor loads the salt from store, creating it on first use.
func NewRedactor(store keystore.Store) (*Redactor, error) {
	salt, err := store.GetOrCreate(SaltKeyName)
	if err != nil {
		return nil, fmt.Errorf("export: redaction salt: %w", err)
	}
	return &Redactor{salt: salt}, nil
}

// Hash returns hex(SHA-256(value || salt)).
func (r *Redactor) Hash(value string) string {
	h := sha256.New()
	h.Write([]byte(value))
	h.Write(r.salt)
	return hex.EncodeToString(h.Sum(nil))
}
