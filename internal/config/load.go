package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgellow/agrosense/internal/envutil"
	"github.com/dgellow/agrosense/internal/log"
	"github.com/google/uuid"
)

// SupportedVersion is the config version prefix this build understands
const SupportedVersion = "v1"

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, SupportedVersion) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	storage, ok := rawConfig["storage"].(map[string]any)
	if !ok {
		return nil
	}
	value, exists := storage["encryptionKey"]
	if !exists {
		return nil
	}
	if _, isString := value.(string); isString {
		return fmt.Errorf("encryptionKey must use environment variable reference for security")
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("encryptionKey must use {\"$env\": \"VAR_NAME\"} format")
		}
	}
	return nil
}

// ApplyDefaults fills unset optional fields
func ApplyDefaults(config *Config) {
	if config.Backend.Timeout == 0 {
		config.Backend.Timeout = DefaultBackendTimeout
	}
	if config.Backend.SessionCookie == "" {
		config.Backend.SessionCookie = DefaultSessionCookie
	}
	if config.OTP.Cooldown == 0 {
		config.OTP.Cooldown = DefaultResendCooldown
	}
	if config.OTP.ErrorDismiss == 0 {
		config.OTP.ErrorDismiss = DefaultErrorDismiss
	}
	if config.Storage.Kind == "" {
		config.Storage.Kind = StorageKindFile
	}
	switch config.Storage.Kind {
	case StorageKindFile:
		if config.Storage.Path == "" {
			config.Storage.Path = DefaultSessionPath()
		}
	case StorageKindFirestore:
		if config.Storage.FirestoreDatabase == "" {
			config.Storage.FirestoreDatabase = DefaultFirestoreDatabase
		}
		if config.Storage.FirestoreCollection == "" {
			config.Storage.FirestoreCollection = DefaultFirestoreCollection
		}
	}
	if config.Device.ID == "" {
		config.Device.ID = DefaultDeviceID()
	}
}

// DefaultSessionPath returns the credential file location in the user's
// config directory, falling back to the working directory.
func DefaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultSessionFile
	}
	return filepath.Join(dir, "agrosense", DefaultSessionFile)
}

// DefaultDeviceID derives a stable device identifier from the host name so
// that the file store key stays the same across runs.
func DefaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Backend.BaseURL == "" {
		return fmt.Errorf("backend.baseURL is required")
	}
	u, err := url.Parse(config.Backend.BaseURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("backend.baseURL must be an absolute URL, got %q", config.Backend.BaseURL)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !envutil.IsDev() {
			return fmt.Errorf("backend.baseURL must use https outside development mode")
		}
	default:
		return fmt.Errorf("backend.baseURL has unsupported scheme %q", u.Scheme)
	}

	if config.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout cannot be negative")
	}
	if config.OTP.Cooldown <= 0 {
		return fmt.Errorf("otp.cooldown must be positive")
	}
	if config.OTP.ErrorDismiss <= 0 {
		return fmt.Errorf("otp.errorDismiss must be positive")
	}
	if config.OTP.ErrorDismiss > config.OTP.Cooldown {
		log.LogWarn("otp.errorDismiss is longer than otp.cooldown")
	}

	return validateStorageConfig(&config.Storage)
}

func validateStorageConfig(storage *StorageConfig) error {
	switch storage.Kind {
	case StorageKindMemory:
		if !envutil.IsDev() {
			log.LogWarn("Memory storage selected - the session will not survive a restart")
		}
		return nil
	case StorageKindFile:
		if storage.Path == "" {
			return fmt.Errorf("storage.path is required for file storage")
		}
	case StorageKindFirestore:
		if storage.GCPProject == "" {
			return fmt.Errorf("storage.gcpProject is required when using firestore storage")
		}
	case StorageKindRedis:
		if storage.RedisURL == "" {
			return fmt.Errorf("storage.redisURL is required when using redis storage")
		}
	default:
		return fmt.Errorf("unknown storage kind: %s", storage.Kind)
	}

	if len(storage.EncryptionKey) < 32 {
		return fmt.Errorf("storage.encryptionKey must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(storage.EncryptionKey))
	}
	return nil
}
