package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/metrics"
	"github.com/dgellow/agrosense/internal/nav"
	"github.com/dgellow/agrosense/internal/notice"
	"github.com/dgellow/agrosense/internal/session"
	"github.com/dgellow/agrosense/internal/storage"
	"github.com/dgellow/agrosense/internal/testutil"
	"github.com/dgellow/agrosense/internal/validate"
	"github.com/jonboulle/clockwork"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPhone = "9876543210"

type fakeAuth struct {
	mu          sync.Mutex
	verifyCodes []string
	resends     int
	verifyErr   error
	resendErr   error
	cred        session.Credential

	// entered receives when a verify starts; gate blocks it until closed
	entered chan struct{}
	gate    chan struct{}

	resendEntered chan struct{}
	resendGate    chan struct{}
}

func (f *fakeAuth) VerifyOTP(_ context.Context, phone, code string, _ authclient.AuthType) (*authclient.Verification, error) {
	f.mu.Lock()
	f.verifyCodes = append(f.verifyCodes, code)
	err, cred := f.verifyErr, f.cred
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err != nil {
		return nil, err
	}
	return &authclient.Verification{Credential: cred}, nil
}

func (f *fakeAuth) RequestOTP(_ context.Context, phone string) (*authclient.Response, error) {
	if f.resendEntered != nil {
		f.resendEntered <- struct{}{}
	}
	if f.resendGate != nil {
		<-f.resendGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.resends++
	if f.resendErr != nil {
		return nil, f.resendErr
	}
	return &authclient.Response{Message: "OTP sent"}, nil
}

func (f *fakeAuth) verifyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.verifyCodes)
}

func (f *fakeAuth) resendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resends
}

type harness struct {
	ctrl    *Controller
	clock   *clockwork.FakeClock
	auth    *fakeAuth
	store   *session.CredentialStore
	session *session.Context
	nav     *nav.Recorder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock: clockwork.NewFakeClock(),
		auth:  &fakeAuth{cred: session.TokenCredential("tok-123")},
		store: session.NewCredentialStore(storage.New(storage.NewMemoryBackend())),
		nav:   &nav.Recorder{},
	}
	h.session = session.NewContext(h.store, h.nav)

	ctrl, err := New(Deps{
		Auth:      h.auth,
		Store:     h.store,
		Session:   h.session,
		Navigator: h.nav,
	}, testPhone, authclient.AuthLogin, append([]Option{WithClock(h.clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	return h
}

func (h *harness) fill(t *testing.T, code string) {
	t.Helper()
	require.NoError(t, h.ctrl.Input(0, code))
}

func TestNew_Validation(t *testing.T) {
	deps := Deps{Auth: &fakeAuth{}, Store: session.NewCredentialStore(storage.New(storage.NewMemoryBackend())), Session: &session.Context{}, Navigator: &nav.Recorder{}}

	_, err := New(deps, "12345", authclient.AuthLogin)
	var verr *validate.Error
	assert.ErrorAs(t, err, &verr)

	_, err = New(deps, testPhone, "reset")
	assert.Error(t, err)

	_, err = New(Deps{}, testPhone, authclient.AuthLogin)
	assert.Error(t, err)
}

func TestInput(t *testing.T) {
	t.Run("paste fills every cell", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Input(0, "123456"))

		snap := h.ctrl.Snapshot()
		assert.Equal(t, [Length]string{"1", "2", "3", "4", "5", "6"}, snap.Cells)
		assert.Equal(t, Length-1, snap.Focus)
		assert.Equal(t, PhaseFilling, snap.Phase)
	})

	t.Run("paste clamps at last cell", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Input(2, "98765432"))

		snap := h.ctrl.Snapshot()
		assert.Equal(t, [Length]string{"", "", "9", "8", "7", "6"}, snap.Cells)
		assert.Equal(t, Length-1, snap.Focus)
	})

	t.Run("short paste", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Input(1, "42"))

		snap := h.ctrl.Snapshot()
		assert.Equal(t, [Length]string{"", "4", "2", "", "", ""}, snap.Cells)
		assert.Equal(t, 3, snap.Focus)
	})

	t.Run("non digits filtered", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.ctrl.Input(0, "a"))
		assert.Equal(t, PhaseIdle, h.ctrl.Snapshot().Phase)
		assert.Empty(t, h.ctrl.Snapshot().Code())

		require.NoError(t, h.ctrl.Input(0, "1-2 3"))
		assert.Equal(t, "123", h.ctrl.Snapshot().Code())
	})

	t.Run("single digit advances focus", func(t *testing.T) {
		h := newHarness(t)
		for i, d := range []string{"1", "2", "3", "4", "5", "6"} {
			require.NoError(t, h.ctrl.Input(i, d))
		}
		snap := h.ctrl.Snapshot()
		assert.Equal(t, "123456", snap.Code())
		assert.Equal(t, Length-1, snap.Focus, "focus stays on the last cell")
	})

	t.Run("empty value clears cell", func(t *testing.T) {
		h := newHarness(t)
		h.fill(t, "123456")
		require.NoError(t, h.ctrl.Input(3, ""))
		assert.Equal(t, [Length]string{"1", "2", "3", "", "5", "6"}, h.ctrl.Snapshot().Cells)
	})

	t.Run("index out of range", func(t *testing.T) {
		h := newHarness(t)
		assert.Error(t, h.ctrl.Input(Length, "1"))
		assert.Error(t, h.ctrl.Input(-1, "1"))
	})
}

func TestKeyPress_Backspace(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.ctrl.Input(0, "12"))
	before := h.ctrl.Snapshot().Cells

	require.NoError(t, h.ctrl.Focus(3))
	require.NoError(t, h.ctrl.KeyPress(3, "Backspace"))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, 2, snap.Focus)
	assert.Equal(t, before, snap.Cells)

	// Filled cell: the input change clears it, the key press does nothing
	require.NoError(t, h.ctrl.Focus(1))
	require.NoError(t, h.ctrl.KeyPress(1, "Backspace"))
	assert.Equal(t, 1, h.ctrl.Snapshot().Focus)

	require.NoError(t, h.ctrl.Input(0, ""))
	require.NoError(t, h.ctrl.Focus(0))
	require.NoError(t, h.ctrl.KeyPress(0, "Backspace"))
	assert.Equal(t, 0, h.ctrl.Snapshot().Focus)

	require.NoError(t, h.ctrl.KeyPress(4, "Enter"))
	assert.Equal(t, 0, h.ctrl.Snapshot().Focus)
}

func TestVerify_RequiresCompleteCode(t *testing.T) {
	for _, partial := range []string{"", "1", "12345"} {
		t.Run("digits="+partial, func(t *testing.T) {
			h := newHarness(t)
			if partial != "" {
				h.fill(t, partial)
			}

			err := h.ctrl.Verify(context.Background())
			assert.ErrorIs(t, err, ErrIncompleteCode)
			assert.Equal(t, 0, h.auth.verifyCount())
			assert.Equal(t, validate.ReasonIncomplete, h.ctrl.Snapshot().Error)
		})
	}

	t.Run("gap in the middle", func(t *testing.T) {
		h := newHarness(t)
		h.fill(t, "123456")
		require.NoError(t, h.ctrl.Input(2, ""))
		assert.ErrorIs(t, h.ctrl.Verify(context.Background()), ErrIncompleteCode)
		assert.Equal(t, 0, h.auth.verifyCount())
	})

	t.Run("complete code is sent", func(t *testing.T) {
		h := newHarness(t)
		h.fill(t, "123456")
		require.NoError(t, h.ctrl.Verify(context.Background()))
		assert.Equal(t, []string{"123456"}, h.auth.verifyCodes)
	})
}

func TestVerify_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCooldownStarted())
	h.fill(t, "123456")

	require.NoError(t, h.ctrl.Verify(ctx))

	cred, ok := h.store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, session.TokenCredential("tok-123"), cred)
	assert.True(t, h.session.IsLoggedIn())

	last, ok := h.nav.Last()
	require.True(t, ok)
	assert.Equal(t, nav.ActionReplace, last.Action)
	assert.Equal(t, nav.RouteProtected, last.Destination.Route)

	assert.Equal(t, PhaseVerified, h.ctrl.Snapshot().Phase)
	assert.ErrorIs(t, h.ctrl.Verify(ctx), ErrVerified)
	assert.ErrorIs(t, h.ctrl.Input(0, "1"), ErrVerified)
}

func TestVerify_Failure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.auth.verifyErr = &authclient.DomainError{Op: authclient.OpVerify, StatusCode: 400, Message: "Invalid OTP"}
	h.fill(t, "123456")

	err := h.ctrl.Verify(ctx)
	var derr *authclient.DomainError
	require.ErrorAs(t, err, &derr)

	assert.False(t, h.session.IsLoggedIn())
	_, ok := h.store.Load(ctx)
	assert.False(t, ok)
	_, ok = h.nav.Last()
	assert.False(t, ok)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, PhaseFilling, snap.Phase)
	assert.Equal(t, "123456", snap.Code(), "input preserved")
	assert.Equal(t, "Invalid OTP", snap.Error)

	h.clock.Advance(notice.DefaultDismiss)
	assert.Empty(t, h.ctrl.Snapshot().Error)

	// The user can correct a digit and try again
	h.auth.mu.Lock()
	h.auth.verifyErr = nil
	h.auth.mu.Unlock()
	require.NoError(t, h.ctrl.Input(5, "7"))
	require.NoError(t, h.ctrl.Verify(ctx))
	assert.Equal(t, []string{"123456", "123457"}, h.auth.verifyCodes)
	assert.True(t, h.session.IsLoggedIn())
}

func TestVerify_NetworkFailure(t *testing.T) {
	h := newHarness(t)
	h.auth.verifyErr = &authclient.NetworkError{Op: authclient.OpVerify, Err: errors.New("dial tcp: connection refused")}
	h.fill(t, "123456")
	before := promtest.ToFloat64(metrics.OTPVerificationsTotal.WithLabelValues(metrics.OutcomeNetwork))

	err := h.ctrl.Verify(context.Background())
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.OTPVerificationsTotal.WithLabelValues(metrics.OutcomeNetwork)))
	var nerr *authclient.NetworkError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, authclient.MsgNetwork, h.ctrl.Snapshot().Error)
	assert.Equal(t, PhaseFilling, h.ctrl.Snapshot().Phase)
}

func TestVerify_StorageFailureStillLogsIn(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	auth := &fakeAuth{cred: session.CookieCredential("session", "abc")}
	rec := &nav.Recorder{}
	sess := session.NewContext(session.NewCredentialStore(storage.New(storage.NewMemoryBackend())), rec)

	ctrl, err := New(Deps{
		Auth:      auth,
		Store:     failingSaver{},
		Session:   sess,
		Navigator: rec,
	}, testPhone, authclient.AuthSignup, WithClock(clock))
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)

	require.NoError(t, ctrl.Input(0, "123456"))
	require.NoError(t, ctrl.Verify(ctx))
	assert.True(t, sess.IsLoggedIn())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, nav.RouteProtected, last.Destination.Route)
}

type failingSaver struct{}

func (failingSaver) Save(context.Context, session.Credential) error {
	return &storage.StorageError{Op: "save", Backend: "keychain", Err: errors.New("unavailable")}
}

func TestVerify_RejectsDoubleSubmit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.auth.entered = make(chan struct{}, 1)
	h.auth.gate = make(chan struct{})
	h.fill(t, "123456")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Verify(ctx) }()
	<-h.auth.entered

	assert.Equal(t, PhaseSubmitting, h.ctrl.Snapshot().Phase)
	assert.ErrorIs(t, h.ctrl.Verify(ctx), ErrBusy)
	assert.ErrorIs(t, h.ctrl.Resend(ctx), ErrBusy)
	assert.ErrorIs(t, h.ctrl.Input(0, "9"), ErrBusy)

	close(h.auth.gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.auth.verifyCount())
}

func TestClose_DropsStaleResponse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.auth.entered = make(chan struct{}, 1)
	h.auth.gate = make(chan struct{})
	h.fill(t, "123456")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Verify(ctx) }()
	<-h.auth.entered

	h.ctrl.Close()
	close(h.auth.gate)

	assert.ErrorIs(t, <-done, ErrClosed)
	assert.False(t, h.session.IsLoggedIn())
	_, ok := h.store.Load(ctx)
	assert.False(t, ok)
	_, ok = h.nav.Last()
	assert.False(t, ok)

	assert.ErrorIs(t, h.ctrl.Verify(ctx), ErrClosed)
}

func TestResend_Cooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, WithCooldownStarted())
	h.fill(t, "12")

	require.Equal(t, 300, h.ctrl.CooldownRemaining())
	assert.False(t, h.ctrl.Snapshot().CanResend())

	h.clock.Advance(10 * time.Second)
	assert.ErrorIs(t, h.ctrl.Resend(ctx), ErrCooldownActive)
	assert.Equal(t, 0, h.auth.resendCount(), "no network call during cooldown")
	assert.Equal(t, 290, h.ctrl.CooldownRemaining(), "timer not reset")
	assert.Equal(t, "12", h.ctrl.Snapshot().Code())

	for want := 289; want >= 0; want-- {
		h.clock.Advance(time.Second)
		require.Equal(t, want, h.ctrl.CooldownRemaining())
	}

	require.NoError(t, h.ctrl.Resend(ctx))
	assert.Equal(t, 1, h.auth.resendCount())

	snap := h.ctrl.Snapshot()
	assert.Empty(t, snap.Code(), "cells cleared")
	assert.Equal(t, 0, snap.Focus)
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.Equal(t, 300, snap.CooldownRemaining)

	h.clock.Advance(time.Second)
	assert.Equal(t, 299, h.ctrl.CooldownRemaining())
	assert.ErrorIs(t, h.ctrl.Resend(ctx), ErrCooldownActive)
	assert.Equal(t, 1, h.auth.resendCount())
}

func TestResend_InputLockedWhileInFlight(t *testing.T) {
	h := newHarness(t)
	h.auth.resendEntered = make(chan struct{}, 1)
	h.auth.resendGate = make(chan struct{})
	h.fill(t, "12")

	done := make(chan error, 1)
	go func() { done <- h.ctrl.Resend(context.Background()) }()
	<-h.auth.resendEntered

	assert.ErrorIs(t, h.ctrl.Input(2, "3"), ErrBusy)
	assert.ErrorIs(t, h.ctrl.KeyPress(2, "Backspace"), ErrBusy)
	assert.ErrorIs(t, h.ctrl.Focus(0), ErrBusy)
	assert.True(t, h.ctrl.Snapshot().Resending)

	close(h.auth.resendGate)
	require.NoError(t, <-done)
	require.NoError(t, h.ctrl.Input(0, "9"))
	assert.Equal(t, "9", h.ctrl.Snapshot().Code())
}

func TestResend_AvailableWithoutCooldown(t *testing.T) {
	h := newHarness(t)
	assert.True(t, h.ctrl.Snapshot().CanResend())
	require.NoError(t, h.ctrl.Resend(context.Background()))
	assert.Equal(t, 300, h.ctrl.CooldownRemaining())
}

func TestResend_Failure(t *testing.T) {
	h := newHarness(t)
	h.auth.resendErr = &authclient.DomainError{Op: authclient.OpSendOTP, StatusCode: 429, Message: authclient.MsgRateLimited}
	h.fill(t, "123")

	err := h.ctrl.Resend(context.Background())
	var derr *authclient.DomainError
	require.ErrorAs(t, err, &derr)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, 0, snap.CooldownRemaining, "cooldown not started")
	assert.Equal(t, "123", snap.Code())
	assert.Equal(t, authclient.MsgRateLimited, snap.Error)
}

func TestCustomDurations(t *testing.T) {
	h := newHarness(t, WithCooldown(30*time.Second), WithErrorDismiss(time.Second), WithCooldownStarted())
	assert.Equal(t, 30, h.ctrl.CooldownRemaining())

	require.ErrorIs(t, h.ctrl.Verify(context.Background()), ErrIncompleteCode)
	h.clock.Advance(time.Second)
	assert.Empty(t, h.ctrl.Snapshot().Error)
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, WithCooldownStarted())

	var mu sync.Mutex
	var seen []Snapshot
	unsubscribe := h.ctrl.Subscribe(func(s Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, h.ctrl.Input(0, "1"))
	h.clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range seen {
			if s.CooldownRemaining == 299 {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond, "cooldown tick notifies subscribers")

	mu.Lock()
	assert.Equal(t, "1", seen[0].Code())
	mu.Unlock()
}

func TestVerify_SendsPhoneAndAuthType(t *testing.T) {
	ctx := context.Background()
	auth := new(testutil.MockAuthClient)
	auth.On("VerifyOTP", mock.Anything, testPhone, "654321", authclient.AuthSignup).
		Return(&authclient.Verification{Credential: session.CookieCredential("session", "s-1")}, nil).Once()

	rec := &nav.Recorder{}
	store := session.NewCredentialStore(storage.New(storage.NewMemoryBackend()))
	ctrl, err := New(Deps{Auth: auth, Store: store, Session: session.NewContext(store, rec), Navigator: rec},
		testPhone, authclient.AuthSignup, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	defer ctrl.Close()

	require.NoError(t, ctrl.Input(0, "654321"))
	require.NoError(t, ctrl.Verify(ctx))
	auth.AssertExpectations(t)
	auth.AssertNotCalled(t, "RequestOTP", mock.Anything, mock.Anything)

	cred, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "cookie:session=s-1", cred.Encode())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSuccess, outcome(nil))
	assert.Equal(t, metrics.OutcomeNetwork, outcome(&authclient.NetworkError{Op: authclient.OpSendOTP, Err: errors.New("timeout")}))
	assert.Equal(t, metrics.OutcomeDomain, outcome(&authclient.DomainError{Op: authclient.OpVerify, StatusCode: 400}))
	assert.Equal(t, metrics.OutcomeInvalid, outcome(&validate.Error{Field: "phone", Reason: validate.ReasonPhone}))
}

// closingSaver closes the screen while the credential is being saved
type closingSaver struct {
	*session.CredentialStore
	close func()
}

func (s *closingSaver) Save(ctx context.Context, cred session.Credential) error {
	s.close()
	return s.CredentialStore.Save(ctx, cred)
}

func TestVerify_CloseDuringSave(t *testing.T) {
	ctx := context.Background()
	store := session.NewCredentialStore(storage.New(storage.NewMemoryBackend()))
	rec := &nav.Recorder{}
	sess := session.NewContext(store, rec)
	saver := &closingSaver{CredentialStore: store}

	ctrl, err := New(Deps{
		Auth:      &fakeAuth{cred: session.TokenCredential("tok-123")},
		Store:     saver,
		Session:   sess,
		Navigator: rec,
	}, testPhone, authclient.AuthLogin, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)
	saver.close = ctrl.Close
	defer ctrl.Close()

	require.NoError(t, ctrl.Input(0, "123456"))
	require.NoError(t, ctrl.Verify(ctx))

	cred, ok := store.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, "tok-123", cred.Value)
	assert.True(t, sess.IsLoggedIn(), "accepted code still logs in")
	_, ok = rec.Last()
	assert.False(t, ok, "closed screen does not navigate")
}
