package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StorageKind selects where the session credential is kept
type StorageKind string

const (
	StorageKindMemory    StorageKind = "memory"
	StorageKindFile      StorageKind = "file"
	StorageKindFirestore StorageKind = "firestore"
	StorageKindRedis     StorageKind = "redis"
)

const (
	DefaultBackendTimeout      = 15 * time.Second
	DefaultSessionCookie       = "session"
	DefaultResendCooldown      = 300 * time.Second
	DefaultErrorDismiss        = 2500 * time.Millisecond
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "agrosense_sessions"
	DefaultSessionFile         = "session.enc"
)

// Config is the top-level client configuration
type Config struct {
	Version string        `json:"version"`
	Backend BackendConfig `json:"backend"`
	OTP     OTPConfig     `json:"otp"`
	Storage StorageConfig `json:"storage"`
	Device  DeviceConfig  `json:"device"`
}

// BackendConfig describes the remote auth backend
type BackendConfig struct {
	BaseURL string
	Timeout time.Duration
	// SessionCookie is the cookie the backend may use instead of a JSON token
	SessionCookie string
}

// OTPConfig holds the timings of the code entry screen
type OTPConfig struct {
	Cooldown     time.Duration
	ErrorDismiss time.Duration
}

// StorageConfig configures the session credential store
type StorageConfig struct {
	Kind                StorageKind
	Path                string
	EncryptionKey       Secret
	GCPProject          string
	FirestoreDatabase   string
	FirestoreCollection string
	CredentialsFile     string
	// RedisURL is a redis:// or rediss:// URL, usually an $env reference
	RedisURL Secret
}

// DeviceConfig identifies this installation towards the backend
type DeviceConfig struct {
	ID string `json:"id"`
}

// ParseConfigValue resolves a config value that is either a plain JSON
// string or an {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
