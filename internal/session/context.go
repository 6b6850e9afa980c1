// Package session holds the process-wide login state and the credential
// that backs it.
package session

import (
	"context"
	"sync"

	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/nav"
	"golang.org/x/sync/singleflight"
)

// Context is the authentication state shared by every screen. It is
// constructed once at startup and passed to whatever needs it.
type Context struct {
	store     *CredentialStore
	navigator nav.Navigator

	mu          sync.RWMutex
	loggedIn    bool
	subscribers map[int]func(loggedIn bool)
	nextID      int

	restore singleflight.Group
}

// NewContext starts logged out
func NewContext(store *CredentialStore, navigator nav.Navigator) *Context {
	return &Context{
		store:       store,
		navigator:   navigator,
		subscribers: make(map[int]func(bool)),
	}
}

// IsLoggedIn reports the current state
func (c *Context) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// LogIn marks the session as authenticated. Call it after the credential
// has been saved, or after a save failure has been accepted.
func (c *Context) LogIn() {
	if c.set(true) {
		log.LogInfoWithFields("session", "Logged in", nil)
	}
}

// LogOut clears the stored credential, then flips the state and sends the
// user to the sign-in screen. The state flips even when clearing fails; the
// storage error is returned for logging.
func (c *Context) LogOut(ctx context.Context) error {
	err := c.store.Clear(ctx)
	if err != nil {
		log.LogErrorWithFields("session", "Failed to clear credential on logout", map[string]any{
			"error": err.Error(),
		})
	}

	c.set(false)
	log.LogInfoWithFields("session", "Logged out", nil)
	c.navigator.Replace(nav.To(nav.RouteSignIn))
	return err
}

// Restore derives the login state from the stored credential. Concurrent
// callers share one storage read.
func (c *Context) Restore(ctx context.Context) (Credential, bool) {
	v, _, shared := c.restore.Do("restore", func() (any, error) {
		cred, ok := c.store.Load(ctx)
		if !ok {
			return Credential{}, nil
		}
		return cred, nil
	})
	cred := v.(Credential)

	if !cred.IsZero() {
		c.set(true)
	}
	log.LogDebugWithFields("session", "Session restored", map[string]any{
		"logged_in": !cred.IsZero(),
		"shared":    shared,
	})
	return cred, !cred.IsZero()
}

// Guard returns where a navigation to dest should actually go: protected
// destinations redirect to sign-in while logged out.
func (c *Context) Guard(dest nav.Destination) nav.Destination {
	if nav.IsProtected(dest.Route) && !c.IsLoggedIn() {
		log.LogDebugWithFields("session", "Redirecting to sign-in", map[string]any{
			"requested": string(dest.Route),
		})
		return nav.To(nav.RouteSignIn)
	}
	return dest
}

// Subscribe registers fn for state changes and returns a function that
// removes it. fn runs on the goroutine that changed the state.
func (c *Context) Subscribe(fn func(loggedIn bool)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// set updates the state and notifies subscribers; it reports whether the
// state changed
func (c *Context) set(loggedIn bool) bool {
	c.mu.Lock()
	if c.loggedIn == loggedIn {
		c.mu.Unlock()
		return false
	}
	c.loggedIn = loggedIn
	subs := make([]func(bool), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(loggedIn)
	}
	return true
}
