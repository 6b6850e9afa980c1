// Package entry is the submit logic of the signup and sign-in screens. Both
// end on the code screen with the phone number and auth type as parameters.
package entry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/nav"
	"github.com/dgellow/agrosense/internal/notice"
	"github.com/dgellow/agrosense/internal/validate"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrBusy is returned when a submit is already in flight
	ErrBusy = errors.New("request already in progress")

	// ErrClosed is returned when the screen was closed, including while a
	// request was in flight; its response is dropped
	ErrClosed = errors.New("entry screen closed")
)

// AuthClient is the part of the backend client the entry screens use
type AuthClient interface {
	RequestSignup(ctx context.Context, name, phone string) (*authclient.Response, error)
	RequestOTP(ctx context.Context, phone string) (*authclient.Response, error)
}

// Flow serves one entry screen at a time
type Flow struct {
	auth      AuthClient
	navigator nav.Navigator
	clock     clockwork.Clock
	dismiss   time.Duration
	notice    *notice.Notice

	mu     sync.Mutex
	busy   bool
	closed bool
}

// Option configures a Flow
type Option func(*Flow)

// WithClock sets the clock used for error dismissal
func WithClock(clock clockwork.Clock) Option {
	return func(f *Flow) {
		f.clock = clock
	}
}

// WithErrorDismiss sets how long an error message stays visible
func WithErrorDismiss(d time.Duration) Option {
	return func(f *Flow) {
		f.dismiss = d
	}
}

// NewFlow creates the entry flow
func NewFlow(auth AuthClient, navigator nav.Navigator, opts ...Option) *Flow {
	f := &Flow{
		auth:      auth,
		navigator: navigator,
		clock:     clockwork.NewRealClock(),
		dismiss:   notice.DefaultDismiss,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.notice = notice.New(f.clock, f.dismiss, nil)
	return f
}

// SignUp registers the user, asks for a code and opens the code screen
func (f *Flow) SignUp(ctx context.Context, name, phone string) error {
	if err := validate.All(validate.Name(name), validate.PhoneNumber(phone)); err != nil {
		f.fail(err)
		return err
	}

	return f.submit(func() error {
		if _, err := f.auth.RequestSignup(ctx, name, phone); err != nil {
			return err
		}
		_, err := f.auth.RequestOTP(ctx, phone)
		return err
	}, func() {
		f.openCodeScreen(phone, authclient.AuthSignup)
	})
}

// SignIn asks for a code and opens the code screen
func (f *Flow) SignIn(ctx context.Context, phone string) error {
	if err := validate.PhoneNumber(phone).Err(); err != nil {
		f.fail(err)
		return err
	}

	return f.submit(func() error {
		_, err := f.auth.RequestOTP(ctx, phone)
		return err
	}, func() {
		f.openCodeScreen(phone, authclient.AuthLogin)
	})
}

// Error returns the visible error message, empty when none
func (f *Flow) Error() string {
	return f.notice.Message()
}

// Close stops the dismiss timer. Responses to a submit still in flight are
// dropped: no navigation and no error message.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.notice.Close()
}

// submit runs the network calls in fn, then onSuccess unless fn failed or
// the screen was closed meanwhile
func (f *Flow) submit(fn func() error, onSuccess func()) error {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return ErrClosed
	case f.busy:
		f.mu.Unlock()
		return ErrBusy
	}
	f.busy = true
	f.mu.Unlock()

	f.notice.Dismiss()
	err := fn()

	f.mu.Lock()
	f.busy = false
	closed := f.closed
	f.mu.Unlock()

	if closed {
		log.LogDebugWithFields("entry", "Ignoring response after close", nil)
		return ErrClosed
	}
	if err != nil {
		f.fail(err)
		return err
	}
	onSuccess()
	return nil
}

func (f *Flow) fail(err error) {
	log.LogInfoWithFields("entry", "Submit failed", map[string]any{
		"error": err.Error(),
	})
	f.notice.Show(authclient.UserMessage(err))
}

func (f *Flow) openCodeScreen(phone string, authType authclient.AuthType) {
	log.LogInfoWithFields("entry", "Code requested", map[string]any{
		"phone":     phone,
		"auth_type": string(authType),
	})
	f.navigator.Push(nav.To(nav.RouteOTP,
		nav.ParamPhoneNumber, phone,
		nav.ParamAuthType, string(authType),
	))
}
