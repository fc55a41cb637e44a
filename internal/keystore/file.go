package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	sealVersion    = 1
	saltSize       = 16
	kdfIterations  = 210_000
	derivedKeySize = 32
)

// ErrWrongPassphrase is returned when a sealed secret fails to open.
var ErrWrongPassphrase = errors.New("keystore: wrong passphrase or corrupted secret")

// FileStore keeps one file per secret under a directory.
//
// Without a passphrase the file holds the raw secret bytes. With one, the
// file holds a sealedSecret: the secret encrypted with AES-256-GCM under a
// PBKDF2-SHA256 key derived from the passphrase.
type FileStore struct {
	dir        string
	passphrase []byte

	mu   sync.Mutex
	rand io.Reader
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithPassphrase seals secrets at rest with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(s *FileStore) {
		if passphrase != "" {
			s.passphrase = []byte(passphrase)
		}
	}
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// lazily with mode 0700 on first write.
func NewFileStore(dir string, opts ...FileOption) *FileStore {
	s := &FileStore{dir: dir, rand: rand.Reader}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the directory secrets are stored in.
func (s *FileStore) Dir() string { return s.dir }

// GetOrCreate implements Store.
//
// When two processes race to create the same secret, the loser reads back
// the winner's file instead of overwriting it.
func (s *FileStore) GetOrCreate(name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, name+".key")
	secret, err := s.read(path)
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create dir: %w", err)
	}

	secret, err = newSecret(s.rand)
	if err != nil {
		return nil, err
	}
	data, err := s.encode(secret)
	if err != nil {
		return nil, err
	}

	// Publish with a hard link so readers never observe a partially written
	// file and a losing creator fails with ErrExist.
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("keystore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("keystore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("keystore: close %s: %w", name, err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return s.read(path)
		}
		return nil, fmt.Errorf("keystore: publish %s: %w", name, err)
	}
	return secret, nil
}

func (s *FileStore) read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("keystore: read %s: %w", filepath.Base(path), err)
	}
	return s.decode(data)
}

// sealedSecret is the on-disk form of a passphrase-protected secret.
type sealedSecret struct {
	Version int    `json:"v"`
	Salt    []byte `json:"salt"`
	Nonce   []byte `json:"nonce"`
	Sealed  []byte `json:"sealed"`
}

func (s *FileStore) encode(secret []byte) ([]byte, error) {
	if s.passphrase == nil {
		return secret, nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(s.rand, salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	aead, err := s.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}

	return json.Marshal(sealedSecret{
		Version: sealVersion,
		Salt:    salt,
		Nonce:   nonce,
		Sealed:  aead.Seal(nil, nonce, secret, nil),
	})
}

func (s *FileStore) decode(data []byte) ([]byte, error) {
	if s.passphrase == nil {
		if len(data) != SecretSize {
			return nil, fmt.Errorf("keystore: secret has %d bytes, want %d", len(data), SecretSize)
		}
		return data, nil
	}

	var sealed sealedSecret
	if err := json.Unmarshal(data, &sealed); err != nil {
		return nil, fmt.Errorf("keystore: decode sealed secret: %w", err)
	}
	if sealed.Version != sealVersion {
		return nil, fmt.Errorf("keystore: unsupported sealed secret version %d", sealed.Version)
	}
	aead, err := s.aead(sealed.Salt)
	if err != nil {
		return nil, err
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, ErrWrongPassphrase
	}
	secret, err := aead.Open(nil, sealed.Nonce, sealed.Sealed, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	return secret, nil
}

func (s *FileStore) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(s.passphrase, salt, kdfIterations, derivedKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: gcm: %w", err)
	}
	return aead, nil
}
