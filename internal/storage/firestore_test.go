package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirestoreBackendConfig(t *testing.T) {
	ctx := context.Background()
	enc := newTestEncryptor(t)

	t.Run("nil encryptor", func(t *testing.T) {
		_, err := NewFirestoreBackend(ctx, "test-project", "(default)", "sessions", "device-1", "", nil)
		assert.ErrorContains(t, err, "encryptor is required")
	})

	t.Run("missing GCP project ID", func(t *testing.T) {
		_, err := NewFirestoreBackend(ctx, "", "(default)", "sessions", "device-1", "", enc)
		assert.ErrorContains(t, err, "projectID is required")
	})

	t.Run("missing collection", func(t *testing.T) {
		_, err := NewFirestoreBackend(ctx, "test-project", "(default)", "", "device-1", "", enc)
		assert.ErrorContains(t, err, "collection is required")
	})

	t.Run("missing device id", func(t *testing.T) {
		_, err := NewFirestoreBackend(ctx, "test-project", "(default)", "sessions", "", "", enc)
		assert.ErrorContains(t, err, "deviceID is required")
	})
}
