package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/metrics"
)

// CredentialKey is the well-known key the session credential is kept under
const CredentialKey = "session_cookie"

// ErrNotFound is returned by a Backend when no credential is stored
var ErrNotFound = errors.New("credential not found")

var errEmpty = errors.New("empty credential")

// StorageError reports that the credential could not be persisted, read or
// removed. It is never fatal: the session carries on in memory.
type StorageError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s storage %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Backend is a durable location for a single opaque value
type Backend interface {
	Name() string
	Get(ctx context.Context) (string, error)
	Put(ctx context.Context, value string) error
	Delete(ctx context.Context) error
}

// SessionStore holds at most one session credential.
//
// Error handling strategy:
// - Save and Clear return a *StorageError (callers log and continue)
// - Load never fails: a missing or unreadable credential reads as none
// - After a Clear, Load reads none until the next successful Save, even if
//   the backend could not delete the value
type SessionStore struct {
	backend Backend

	mu      sync.Mutex
	cleared bool
}

// New wraps a backend
func New(backend Backend) *SessionStore {
	return &SessionStore{backend: backend}
}

// Backend returns the name of the underlying backend
func (s *SessionStore) Backend() string {
	return s.backend.Name()
}

// Save overwrites any stored credential
func (s *SessionStore) Save(ctx context.Context, value string) error {
	if value == "" {
		s.observe("save", errEmpty)
		return &StorageError{Op: "save", Backend: s.backend.Name(), Err: errEmpty}
	}
	err := s.backend.Put(ctx, value)
	s.observe("save", err)
	if err != nil {
		log.LogErrorWithFields("storage", "Failed to save credential", map[string]any{
			"backend": s.backend.Name(),
			"error":   err.Error(),
		})
		return &StorageError{Op: "save", Backend: s.backend.Name(), Err: err}
	}
	s.setCleared(false)

	log.LogDebugWithFields("storage", "Credential saved", map[string]any{
		"backend": s.backend.Name(),
	})
	return nil
}

// Load returns the stored credential, or false if there is none or it could
// not be read
func (s *SessionStore) Load(ctx context.Context) (string, bool) {
	if s.isCleared() {
		log.LogDebugWithFields("storage", "Credential cleared, ignoring stored value", map[string]any{
			"backend": s.backend.Name(),
		})
		return "", false
	}

	value, err := s.backend.Get(ctx)
	if errors.Is(err, ErrNotFound) {
		s.observe("load", nil)
	} else {
		s.observe("load", err)
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.LogErrorWithFields("storage", "Failed to load credential", map[string]any{
				"backend": s.backend.Name(),
				"error":   err.Error(),
			})
		}
		return "", false
	}
	return value, value != ""
}

// Clear removes the credential. Clearing an empty store is not an error.
// When the backend cannot delete, the stored value is overwritten with an
// empty one if possible, and Load reads none from then on either way.
func (s *SessionStore) Clear(ctx context.Context) error {
	err := s.backend.Delete(ctx)
	if errors.Is(err, ErrNotFound) {
		err = nil
	}
	s.observe("clear", err)
	if err != nil {
		s.setCleared(true)
		fields := map[string]any{
			"backend": s.backend.Name(),
			"error":   err.Error(),
		}
		if perr := s.backend.Put(ctx, ""); perr != nil {
			fields["overwrite_error"] = perr.Error()
		}
		log.LogErrorWithFields("storage", "Failed to clear credential", fields)
		return &StorageError{Op: "clear", Backend: s.backend.Name(), Err: err}
	}
	s.setCleared(false)

	log.LogDebugWithFields("storage", "Credential cleared", map[string]any{
		"backend": s.backend.Name(),
	})
	return nil
}

func (s *SessionStore) observe(op string, err error) {
	metrics.StorageOpsTotal.WithLabelValues(s.backend.Name(), op, metrics.Status(err)).Inc()
}

func (s *SessionStore) setCleared(cleared bool) {
	s.mu.Lock()
	s.cleared = cleared
	s.mu.Unlock()
}

func (s *SessionStore) isCleared() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}
