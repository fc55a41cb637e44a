package authn

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/keystore"
)

type flakyStore struct {
	fails int
	calls int
	key   []byte
}

func (f *flakyStore) GetOrCreate(string) ([]byte, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("disk unavailable")
	}
	return f.key, nil
}

func fixedKey() []byte { return bytes.Repeat([]byte{0x42}, keystore.SecretSize) }

func TestAuthenticate_MatchesHMAC(t *testing.T) {
	store := keystore.NewMemoryStore()
	store.Put(DefaultKeyName, fixedKey())
	a := New(store, "")

	got, err := a.Authenticate([]byte("payload"))
	require.NoError(t, err)

	m := hmac.New(sha256.New, fixedKey())
	m.Write([]byte("payload"))
	assert.Equal(t, m.Sum(nil), got)
	assert.Len(t, got, Size)
}

func TestAuthenticate_Deterministic(t *testing.T) {
	store := keystore.NewMemoryStore()
	a := New(store, "")
	b := New(store, "")

	x, err := a.Authenticate([]byte("same"))
	require.NoError(t, err)
	y, err := b.Authenticate([]byte("same"))
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestChain_ConcatenatesPrevAndRow(t *testing.T) {
	store := keystore.NewMemoryStore()
	a := New(store, "")

	row, err := a.Authenticate([]byte("event"))
	require.NoError(t, err)

	genesis, err := a.Chain(nil, row)
	require.NoError(t, err)
	direct, err := a.Authenticate(row)
	require.NoError(t, err)
	assert.Equal(t, direct, genesis)

	next, err := a.Chain(genesis, row)
	require.NoError(t, err)
	manual, err := a.Authenticate(append(append([]byte{}, genesis...), row...))
	require.NoError(t, err)
	assert.Equal(t, manual, next)
	assert.NotEqual(t, genesis, next)
}

func TestEnsureKey_FailureIsKeyStoreErrorAndRetried(t *testing.T) {
	store := &flakyStore{fails: 1, key: fixedKey()}
	a := New(store, "")

	_, err := a.Authenticate([]byte("x"))
	require.Error(t, err)
	assert.True(t, errs.IsKeyStore(err))

	_, err = a.Authenticate([]byte("x"))
	require.NoError(t, err)

	_, err = a.Authenticate([]byte("y"))
	require.NoError(t, err)
	assert.Equal(t, 2, store.calls, "key is cached after the first success")
}

func TestEnsureKey_EmptySecret(t *testing.T) {
	a := New(&flakyStore{key: []byte{}}, "custom")
	_, err := a.EnsureKey()
	assert.True(t, errs.IsKeyStore(err))
}
