package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnmarshalJSON implements custom unmarshaling for BackendConfig
func (b *BackendConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		BaseURL       json.RawMessage `json:"baseURL"`
		Timeout       string          `json:"timeout"`
		SessionCookie string          `json:"sessionCookie"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.BaseURL != nil {
		value, err := ParseConfigValue(raw.BaseURL)
		if err != nil {
			return fmt.Errorf("parsing baseURL: %w", err)
		}
		b.BaseURL = strings.TrimRight(value, "/")
	}

	timeout, err := parseDuration("timeout", raw.Timeout)
	if err != nil {
		return err
	}
	b.Timeout = timeout
	b.SessionCookie = raw.SessionCookie

	return nil
}

// UnmarshalJSON implements custom unmarshaling for OTPConfig
func (o *OTPConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Cooldown     string `json:"cooldown"`
		ErrorDismiss string `json:"errorDismiss"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	cooldown, err := parseDuration("cooldown", raw.Cooldown)
	if err != nil {
		return err
	}
	dismiss, err := parseDuration("errorDismiss", raw.ErrorDismiss)
	if err != nil {
		return err
	}
	o.Cooldown = cooldown
	o.ErrorDismiss = dismiss

	return nil
}

// UnmarshalJSON implements custom unmarshaling for StorageConfig
func (s *StorageConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind                StorageKind     `json:"kind"`
		Path                json.RawMessage `json:"path"`
		EncryptionKey       json.RawMessage `json:"encryptionKey"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		CredentialsFile     json.RawMessage `json:"credentialsFile"`
		RedisURL            json.RawMessage `json:"redisURL"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Kind = raw.Kind
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"path", raw.Path, &s.Path},
		{"gcpProject", raw.GCPProject, &s.GCPProject},
		{"credentialsFile", raw.CredentialsFile, &s.CredentialsFile},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		value, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	if raw.EncryptionKey != nil {
		value, err := ParseConfigValue(raw.EncryptionKey)
		if err != nil {
			return fmt.Errorf("parsing encryptionKey: %w", err)
		}
		s.EncryptionKey = Secret(value)
	}

	if raw.RedisURL != nil {
		value, err := ParseConfigValue(raw.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redisURL: %w", err)
		}
		s.RedisURL = Secret(value)
	}

	switch s.Kind {
	case "", StorageKindMemory, StorageKindFile, StorageKindFirestore, StorageKindRedis:
	default:
		return fmt.Errorf("unknown storage kind: %s (use memory, file, firestore or redis)", s.Kind)
	}

	return nil
}
