package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgellow/agrosense/internal/crypto"
)

var _ Backend = (*FileBackend)(nil)

// fileEnvelope is the on-disk layout; only Value is secret
type fileEnvelope struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileBackend keeps the encrypted credential in a single file readable only
// by the current user
type FileBackend struct {
	mu        sync.Mutex
	path      string
	encryptor crypto.Encryptor
}

// NewFileBackend creates a file backend at path
func NewFileBackend(path string, encryptor crypto.Encryptor) (*FileBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("path is required")
	}
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &FileBackend{path: path, encryptor: encryptor}, nil
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Get(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", f.path, err)
	}

	var env fileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("parsing %s: %w", f.path, err)
	}
	if env.Key != CredentialKey {
		return "", fmt.Errorf("unexpected key %q in %s", env.Key, f.path)
	}

	value, err := f.encryptor.Decrypt(env.Value)
	if err != nil {
		return "", fmt.Errorf("decrypting credential: %w", err)
	}
	return value, nil
}

// Put writes to a temp file and renames it over the old one so a crash never
// leaves a half-written credential behind
func (f *FileBackend) Put(_ context.Context, value string) error {
	sealed, err := f.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}
	data, err := json.Marshal(fileEnvelope{Key: CredentialKey, Value: sealed, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replacing %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) Delete(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", f.path, err)
	}
	return nil
}
