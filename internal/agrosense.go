package internal

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgellow/agrosense/internal/authclient"
	"github.com/dgellow/agrosense/internal/config"
	"github.com/dgellow/agrosense/internal/crypto"
	"github.com/dgellow/agrosense/internal/entry"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/dgellow/agrosense/internal/nav"
	"github.com/dgellow/agrosense/internal/otp"
	"github.com/dgellow/agrosense/internal/session"
	"github.com/dgellow/agrosense/internal/storage"
	"github.com/jonboulle/clockwork"
)

// App is the complete authentication core wired from configuration
type App struct {
	config  config.Config
	clock   clockwork.Clock
	backend storage.Backend

	Auth      *authclient.Client
	Store     *session.CredentialStore
	Session   *session.Context
	Navigator *nav.Recorder
	Entry     *entry.Flow

	closeStorage func() error
}

// AppOption configures an App
type AppOption func(*App)

// WithClock sets the clock for cooldowns and message dismissal
func WithClock(clock clockwork.Clock) AppOption {
	return func(a *App) {
		a.clock = clock
	}
}

// WithStorageBackend uses backend for the credential instead of the one
// selected by configuration
func WithStorageBackend(backend storage.Backend) AppOption {
	return func(a *App) {
		a.backend = backend
	}
}

// NewApp builds the storage backend, backend client, session context and
// entry flow
func NewApp(ctx context.Context, cfg config.Config, version string, opts ...AppOption) (*App, error) {
	app := &App{
		config:    cfg,
		clock:     clockwork.NewRealClock(),
		Navigator: &nav.Recorder{},
	}
	for _, opt := range opts {
		opt(app)
	}

	log.LogInfoWithFields("agrosense", "Building application", map[string]any{
		"backend": cfg.Backend.BaseURL,
		"storage": string(cfg.Storage.Kind),
		"version": version,
	})

	if app.backend == nil {
		backend, closeStorage, err := setupStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to setup storage: %w", err)
		}
		app.backend, app.closeStorage = backend, closeStorage
	}

	app.Store = session.NewCredentialStore(storage.New(app.backend))
	app.Session = session.NewContext(app.Store, app.Navigator)
	app.Auth = authclient.New(authclient.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		SessionCookie: cfg.Backend.SessionCookie,
		DeviceID:      cfg.Device.ID,
		Version:       version,
	})
	app.Entry = entry.NewFlow(app.Auth, app.Navigator,
		entry.WithClock(app.clock),
		entry.WithErrorDismiss(cfg.OTP.ErrorDismiss),
	)

	return app, nil
}

// setupStorage creates the credential backend selected by configuration
func setupStorage(ctx context.Context, cfg config.Config) (storage.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Storage.Kind {
	case config.StorageKindFile:
		encryptor, err := crypto.NewDeviceEncryptor([]byte(cfg.Storage.EncryptionKey), cfg.Device.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		backend, err := storage.NewFileBackend(cfg.Storage.Path, encryptor)
		if err != nil {
			return nil, nil, err
		}
		log.LogInfoWithFields("storage", "Using encrypted file storage", map[string]any{
			"path": cfg.Storage.Path,
		})
		return backend, noop, nil

	case config.StorageKindFirestore:
		encryptor, err := crypto.NewDeviceEncryptor([]byte(cfg.Storage.EncryptionKey), cfg.Device.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		backend, err := storage.NewFirestoreBackend(
			ctx,
			cfg.Storage.GCPProject,
			cfg.Storage.FirestoreDatabase,
			cfg.Storage.FirestoreCollection,
			cfg.Device.ID,
			cfg.Storage.CredentialsFile,
			encryptor,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Firestore storage: %w", err)
		}
		return backend, backend.Close, nil

	case config.StorageKindRedis:
		encryptor, err := crypto.NewDeviceEncryptor([]byte(cfg.Storage.EncryptionKey), cfg.Device.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
		}
		backend, err := storage.NewRedisBackend(string(cfg.Storage.RedisURL), cfg.Device.ID, encryptor)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Redis storage: %w", err)
		}
		return backend, backend.Close, nil

	default:
		log.LogInfoWithFields("storage", "Using in-memory storage", nil)
		return storage.NewMemoryBackend(), noop, nil
	}
}

// OpenCodeScreen builds the code screen controller for a navigation to
// /otp. The previous screen has just sent a code, so the cooldown is running.
func (a *App) OpenCodeScreen(dest nav.Destination) (*otp.Controller, error) {
	if dest.Route != nav.RouteOTP {
		return nil, fmt.Errorf("not a code screen destination: %s", dest)
	}
	authType, err := authclient.ParseAuthType(dest.Param(nav.ParamAuthType))
	if err != nil {
		return nil, err
	}

	return otp.New(otp.Deps{
		Auth:      a.Auth,
		Store:     a.Store,
		Session:   a.Session,
		Navigator: a.Navigator,
	}, dest.Param(nav.ParamPhoneNumber), authType,
		otp.WithClock(a.clock),
		otp.WithCooldown(a.config.OTP.Cooldown),
		otp.WithErrorDismiss(a.config.OTP.ErrorDismiss),
		otp.WithCooldownStarted(),
	)
}

// ErrNotLoggedIn is returned by Profile without a stored session
var ErrNotLoggedIn = errors.New("not logged in")

// Profile restores the session and loads the user's profile. A credential
// the backend no longer accepts is cleared; when clearing fails the returned
// error wraps both ErrNotLoggedIn and the *storage.StorageError.
func (a *App) Profile(ctx context.Context) (*authclient.Profile, error) {
	cred, ok := a.Session.Restore(ctx)
	if !ok {
		return nil, ErrNotLoggedIn
	}

	profile, err := a.Auth.FetchProfile(ctx, cred)
	if err != nil {
		if authclient.IsUnauthorized(err) {
			log.LogWarnWithFields("agrosense", "Stored session rejected, logging out", nil)
			if lerr := a.Session.LogOut(ctx); lerr != nil {
				return nil, fmt.Errorf("%w: %w", ErrNotLoggedIn, lerr)
			}
			return nil, ErrNotLoggedIn
		}
		return nil, err
	}
	return profile, nil
}

// Close releases the storage backend and timers
func (a *App) Close() error {
	a.Entry.Close()
	if a.closeStorage != nil {
		return a.closeStorage()
	}
	return nil
}
