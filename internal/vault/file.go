package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// argon2id parameters for the file key. Matching values are stored alongside
// the ciphertext so they can evolve without breaking existing vault files.
const (
	keyTime    = 2
	keyMemory  = 64 * 1024
	keyThreads = 1
	keyLength  = chacha20poly1305.KeySize
	saltLength = 16
)

var ErrBadPassphrase = errors.New("vault: passphrase does not open this vault")

type fileEntry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

type fileEnvelope struct {
	Salt  string `json:"salt"`
	Nonce string `json:"nonce"`
	Data  string `json:"data"`
}

// File is a vault persisted as a single encrypted file. The payload is sealed
// with XChaCha20-Poly1305 under a key derived from the passphrase via argon2id.
// Concurrent processes writing the same file race last-writer-wins.
type File struct {
	mu         sync.Mutex
	path       string
	passphrase []byte
	slots      map[string]fileEntry
	now        func() time.Time
}

// FileOption configures a File vault.
type FileOption func(*File)

// WithFileClock overrides the time source. Only intended for tests.
func WithFileClock(fn func() time.Time) FileOption {
	return func(f *File) {
		if fn != nil {
			f.now = fn
		}
	}
}

// OpenFile loads (or initializes) an encrypted vault file.
func OpenFile(path, passphrase string, opts ...FileOption) (*File, error) {
	if path == "" {
		return nil, errors.New("vault: file path is required")
	}
	if passphrase == "" {
		return nil, errors.New("vault: passphrase is required")
	}
	f := &File{
		path:       path,
		passphrase: []byte(passphrase),
		slots:      make(map[string]fileEntry),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.load(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) Set(_ context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := fileEntry{Value: value}
	if ttl > 0 {
		entry.ExpiresAt = f.now().Add(ttl)
	}
	f.slots[key] = entry
	return f.persistLocked()
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.slots[key]
	if !ok {
		return "", false, nil
	}
	if !entry.ExpiresAt.IsZero() && !f.now().Before(entry.ExpiresAt) {
		delete(f.slots, key)
		return "", false, f.persistLocked()
	}
	return entry.Value, true, nil
}

func (f *File) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.slots[key]; !ok {
		return nil
	}
	delete(f.slots, key)
	return f.persistLocked()
}

func (f *File) load() error {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSealed, err)
	}
	var env fileEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: corrupt vault file", ErrSealed)
	}
	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return fmt.Errorf("%w: corrupt vault file", ErrSealed)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return fmt.Errorf("%w: corrupt vault file", ErrSealed)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return fmt.Errorf("%w: corrupt vault file", ErrSealed)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(f.passphrase, salt))
	if err != nil {
		return err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return ErrBadPassphrase
	}
	slots := make(map[string]fileEntry)
	if err := json.Unmarshal(plaintext, &slots); err != nil {
		return fmt.Errorf("%w: corrupt vault payload", ErrSealed)
	}
	f.slots = slots
	return nil
}

func (f *File) persistLocked() error {
	plaintext, err := json.Marshal(f.slots)
	if err != nil {
		return err
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(deriveKey(f.passphrase, salt))
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	env := fileEnvelope{
		Salt:  base64.StdEncoding.EncodeToString(salt),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
		Data:  base64.StdEncoding.EncodeToString(ciphertext),
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, keyTime, keyMemory, keyThreads, keyLength)
}
