package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgellow/agrosense/internal/cookie"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/storage"
)

// CredentialKind says how the backend issued a credential
type CredentialKind string

const (
	KindToken  CredentialKind = "token"
	KindCookie CredentialKind = "cookie"
)

// Credential proves an authenticated session. Tokens are presented as a
// bearer header, cookies under their original name.
type Credential struct {
	Kind  CredentialKind
	Name  string // Cookie name, empty for tokens
	Value string
}

// TokenCredential wraps a token from a verification response body
func TokenCredential(value string) Credential {
	return Credential{Kind: KindToken, Value: value}
}

// CookieCredential wraps a session cookie set on a verification response
func CookieCredential(name, value string) Credential {
	return Credential{Kind: KindCookie, Name: name, Value: value}
}

// IsZero reports whether the credential is empty
func (c Credential) IsZero() bool {
	return c.Value == ""
}

// String never prints the value
func (c Credential) String() string {
	if c.IsZero() {
		return "<none>"
	}
	if c.Kind == KindCookie {
		return fmt.Sprintf("cookie(%s=***)", c.Name)
	}
	return string(c.Kind) + "(***)"
}

// Encode renders the credential as the single opaque string kept in storage
func (c Credential) Encode() string {
	switch c.Kind {
	case KindCookie:
		return string(KindCookie) + ":" + cookie.Encode(c.Name, c.Value)
	default:
		return string(KindToken) + ":" + c.Value
	}
}

// DecodeCredential parses the output of Encode
func DecodeCredential(s string) (Credential, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return Credential{}, fmt.Errorf("malformed credential")
	}

	switch CredentialKind(kind) {
	case KindToken:
		return TokenCredential(rest), nil
	case KindCookie:
		name, value, ok := cookie.Decode(rest)
		if !ok {
			return Credential{}, fmt.Errorf("malformed cookie credential")
		}
		return CookieCredential(name, value), nil
	default:
		return Credential{}, fmt.Errorf("unknown credential kind %q", kind)
	}
}

// CredentialStore keeps a Credential in a SessionStore
type CredentialStore struct {
	store *storage.SessionStore
}

// NewCredentialStore wraps a session store
func NewCredentialStore(store *storage.SessionStore) *CredentialStore {
	return &CredentialStore{store: store}
}

// Save overwrites the stored credential. Failures are *storage.StorageError.
func (s *CredentialStore) Save(ctx context.Context, cred Credential) error {
	if cred.IsZero() {
		return &storage.StorageError{Op: "save", Backend: s.store.Backend(), Err: fmt.Errorf("empty credential")}
	}
	return s.store.Save(ctx, cred.Encode())
}

// Load returns the stored credential. An unparseable value reads as none.
func (s *CredentialStore) Load(ctx context.Context) (Credential, bool) {
	raw, ok := s.store.Load(ctx)
	if !ok {
		return Credential{}, false
	}

	cred, err := DecodeCredential(raw)
	if err != nil {
		log.LogWarnWithFields("session", "Ignoring unreadable stored credential", map[string]any{
			"backend": s.store.Backend(),
			"error":   err.Error(),
		})
		return Credential{}, false
	}
	return cred, true
}

// Clear removes the stored credential; clearing nothing is not an error
func (s *CredentialStore) Clear(ctx context.Context) error {
	return s.store.Clear(ctx)
}
