// Package otp drives the one-time code screen: six digit cells, the
// verify action, and resend with a cooldown.
package otp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/metrics"
	"github.com/dgellow/agrosense/internal/nav"
	"github.com/dgellow/agrosense/internal/notice"
	"github.com/dgellow/agrosense/internal/session"
	"github.com/dgellow/agrosense/internal/validate"
	"github.com/jonboulle/clockwork"
)

const (
	// Length is the number of digit cells
	Length = validate.OTPDigits

	// DefaultCooldown is the wait between resends
	DefaultCooldown = 300 * time.Second
)

var (
	// ErrBusy is returned while a verify or resend is in flight
	ErrBusy = errors.New("request already in progress")

	// ErrCooldownActive is returned by Resend before the cooldown ends
	ErrCooldownActive = errors.New("resend cooldown active")

	// ErrIncompleteCode is returned by Verify unless all cells are filled
	ErrIncompleteCode = errors.New("incomplete code")

	// ErrVerified is returned once the code has been accepted
	ErrVerified = errors.New("code already verified")

	// ErrClosed is returned after Close, including for responses that
	// arrive after it
	ErrClosed = errors.New("controller closed")
)

// AuthClient is the part of the backend client the screen uses
type AuthClient interface {
	VerifyOTP(ctx context.Context, phone, code string, authType authclient.AuthType) (*authclient.Verification, error)
	RequestOTP(ctx context.Context, phone string) (*authclient.Response, error)
}

// CredentialSaver persists the credential issued on verification
type CredentialSaver interface {
	Save(ctx context.Context, cred session.Credential) error
}

// LoginState is flipped to logged in after a successful verification
type LoginState interface {
	LogIn()
}

// Deps are the collaborators a Controller needs
type Deps struct {
	Auth      AuthClient
	Store     CredentialSaver
	Session   LoginState
	Navigator nav.Navigator
}

// Controller is safe for concurrent use. Every exported method may be called
// from any goroutine; none holds the lock across a network or storage call.
type Controller struct {
	deps     Deps
	phone    string
	authType authclient.AuthType

	clock           clockwork.Clock
	cooldown        time.Duration
	dismiss         time.Duration
	startedCooldown bool

	mu            sync.Mutex
	cells         [Length]string
	focus         int
	phase         Phase
	resending     bool
	cooldownUntil time.Time
	stopTicker    chan struct{}
	closed        bool
	subscribers   map[int]func(Snapshot)
	nextID        int

	notice *notice.Notice
	wg     sync.WaitGroup
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock driving the cooldown and error dismissal
func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithCooldown sets the resend cooldown
func WithCooldown(d time.Duration) Option {
	return func(c *Controller) {
		c.cooldown = d
	}
}

// WithErrorDismiss sets how long an error message stays visible
func WithErrorDismiss(d time.Duration) Option {
	return func(c *Controller) {
		c.dismiss = d
	}
}

// WithCooldownStarted opens the screen with the cooldown already running,
// for when the previous screen has just sent a code
func WithCooldownStarted() Option {
	return func(c *Controller) {
		c.startedCooldown = true
	}
}

// New creates the controller for one phone number
func New(deps Deps, phone string, authType authclient.AuthType, opts ...Option) (*Controller, error) {
	if deps.Auth == nil || deps.Store == nil || deps.Session == nil || deps.Navigator == nil {
		return nil, fmt.Errorf("otp controller requires auth client, store, session and navigator")
	}
	if err := validate.PhoneNumber(phone).Err(); err != nil {
		return nil, err
	}
	if _, err := authclient.ParseAuthType(string(authType)); err != nil {
		return nil, err
	}

	c := &Controller{
		deps:        deps,
		phone:       phone,
		authType:    authType,
		clock:       clockwork.NewRealClock(),
		cooldown:    DefaultCooldown,
		dismiss:     notice.DefaultDismiss,
		phase:       PhaseIdle,
		subscribers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.notice = notice.New(c.clock, c.dismiss, c.notify)

	if c.startedCooldown {
		c.mu.Lock()
		c.startCooldownLocked()
		c.mu.Unlock()
	}

	log.LogDebugWithFields("otp", "Code screen opened", map[string]any{
		"phone":     phone,
		"auth_type": string(authType),
	})

	return c, nil
}

// Input handles a change to one cell. Non-digits are dropped; an empty value
// clears the cell; several digits are a paste filling cells from index on.
func (c *Controller) Input(index int, value string) error {
	c.mu.Lock()
	if err := c.editableLocked(index); err != nil {
		c.mu.Unlock()
		return err
	}

	digits := onlyDigits(value)
	switch {
	case value == "":
		c.cells[index] = ""
	case digits == "":
		c.mu.Unlock()
		return nil
	case len(digits) == 1:
		c.cells[index] = digits
		if index < Length-1 {
			c.focus = index + 1
		}
	default:
		for i := 0; i < len(digits) && index+i < Length; i++ {
			c.cells[index+i] = digits[i : i+1]
		}
		c.focus = min(Length-1, index+len(digits))
	}

	if c.phase == PhaseIdle && value != "" {
		c.phase = PhaseFilling
	}
	c.mu.Unlock()

	c.notify()
	return nil
}

// KeyPress handles a key on one cell. Backspace on an empty cell moves focus
// to the previous cell without touching its digit.
func (c *Controller) KeyPress(index int, key string) error {
	c.mu.Lock()
	if err := c.editableLocked(index); err != nil {
		c.mu.Unlock()
		return err
	}

	if key != "Backspace" || index == 0 || c.cells[index] != "" {
		c.mu.Unlock()
		return nil
	}
	c.focus = index - 1
	c.mu.Unlock()

	c.notify()
	return nil
}

// Focus moves the cursor to a cell
func (c *Controller) Focus(index int) error {
	c.mu.Lock()
	if err := c.editableLocked(index); err != nil {
		c.mu.Unlock()
		return err
	}
	c.focus = index
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *Controller) editableLocked(index int) error {
	if c.closed {
		return ErrClosed
	}
	if c.phase == PhaseVerified {
		return ErrVerified
	}
	// A resend clears every cell when it lands, so nothing typed meanwhile
	// would survive
	if c.phase == PhaseSubmitting || c.resending {
		return ErrBusy
	}
	if index < 0 || index >= Length {
		return fmt.Errorf("cell index %d out of range", index)
	}
	return nil
}

// Verify submits the code. An incomplete code fails locally. On success the
// credential is saved, the session logs in and the navigator replaces the
// stack with the protected area; a storage failure is logged and the login
// proceeds. A screen closed after the code was accepted still logs in but
// does not navigate. On failure the message is shown and the digits stay in place.
func (c *Controller) Verify(ctx context.Context) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	code := strings.Join(c.cells[:], "")
	if !validate.OTPCode(code).Valid() {
		c.mu.Unlock()
		metrics.OTPVerificationsTotal.WithLabelValues(metrics.OutcomeInvalid).Inc()
		c.notice.Show(validate.ReasonIncomplete)
		c.notify()
		return ErrIncompleteCode
	}

	c.phase = PhaseSubmitting
	c.mu.Unlock()
	c.notify()

	verification, err := c.deps.Auth.VerifyOTP(ctx, c.phone, code, c.authType)
	metrics.OTPVerificationsTotal.WithLabelValues(outcome(err)).Inc()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.LogDebugWithFields("otp", "Ignoring verify response after close", nil)
		return ErrClosed
	}
	if err != nil {
		c.phase = PhaseFilling
		c.mu.Unlock()

		log.LogInfoWithFields("otp", "Verification failed", map[string]any{
			"phone": c.phone,
			"error": err.Error(),
		})
		c.notice.Show(authclient.UserMessage(err))
		c.notify()
		return err
	}
	c.phase = PhaseVerified
	c.stopCooldownLocked()
	c.mu.Unlock()

	if err := c.deps.Store.Save(ctx, verification.Credential); err != nil {
		log.LogErrorWithFields("otp", "Session credential not persisted, continuing in memory", map[string]any{
			"error": err.Error(),
		})
	}
	c.deps.Session.LogIn()

	log.LogInfoWithFields("otp", "Code verified", map[string]any{
		"phone":      c.phone,
		"auth_type":  string(c.authType),
		"credential": verification.Credential.String(),
	})

	// An accepted code always logs in. Only the navigation belongs to the
	// screen, and a closed screen no longer owns the stack.
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		log.LogDebugWithFields("otp", "Screen closed during login, not navigating", nil)
		return nil
	}
	c.deps.Navigator.Replace(nav.To(nav.RouteProtected))
	c.notify()
	return nil
}

// Resend requests a new code. While the cooldown runs it does nothing and
// returns ErrCooldownActive. On success all cells are cleared, focus returns
// to the first cell and the cooldown restarts.
func (c *Controller) Resend(ctx context.Context) error {
	c.mu.Lock()
	if err := c.actionableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.remainingLocked() > 0 {
		c.mu.Unlock()
		return ErrCooldownActive
	}
	c.resending = true
	c.mu.Unlock()
	c.notify()

	_, err := c.deps.Auth.RequestOTP(ctx, c.phone)
	metrics.OTPResendsTotal.WithLabelValues(outcome(err)).Inc()

	c.mu.Lock()
	c.resending = false
	if c.closed {
		c.mu.Unlock()
		log.LogDebugWithFields("otp", "Ignoring resend response after close", nil)
		return ErrClosed
	}
	if err != nil {
		c.mu.Unlock()
		log.LogInfoWithFields("otp", "Resend failed", map[string]any{
			"phone": c.phone,
			"error": err.Error(),
		})
		c.notice.Show(authclient.UserMessage(err))
		c.notify()
		return err
	}

	c.cells = [Length]string{}
	c.focus = 0
	c.phase = PhaseIdle
	c.startCooldownLocked()
	c.mu.Unlock()

	log.LogInfoWithFields("otp", "Code resent", map[string]any{
		"phone": c.phone,
	})
	c.notify()
	return nil
}

func outcome(err error) string {
	var netErr *authclient.NetworkError
	var invalid *validate.Error
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &netErr):
		return metrics.OutcomeNetwork
	case errors.As(err, &invalid):
		return metrics.OutcomeInvalid
	}
	return metrics.OutcomeDomain
}

func (c *Controller) actionableLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.phase == PhaseVerified:
		return ErrVerified
	case c.phase == PhaseSubmitting || c.resending:
		return ErrBusy
	}
	return nil
}

// CooldownRemaining returns whole seconds until Resend is allowed
func (c *Controller) CooldownRemaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *Controller) remainingLocked() int {
	left := c.cooldownUntil.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Close stops the cooldown ticker and the dismiss timer. Responses to calls
// still in flight are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.stopCooldownLocked()
	c.mu.Unlock()

	c.notice.Close()
	c.wg.Wait()

	log.LogDebugWithFields("otp", "Code screen closed", nil)
}
