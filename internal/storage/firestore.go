package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/dgellow/agrosense/internal/crypto"
	"github.com/dgellow/agrosense/internal/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var _ Backend = (*FirestoreBackend)(nil)

// CredentialDoc is the Firestore document holding one device's credential
type CredentialDoc struct {
	Key       string    `firestore:"key"`
	Value     string    `firestore:"value"` // Encrypted credential
	DeviceID  string    `firestore:"device_id"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// FirestoreBackend keeps the encrypted credential in Cloud Firestore, one
// document per device, so a reinstalled app on the same device id can
// restore its session.
type FirestoreBackend struct {
	client     *firestore.Client
	collection string
	deviceID   string
	encryptor  crypto.Encryptor
}

// NewFirestoreBackend connects to Firestore. An empty credentialsFile uses
// application default credentials.
func NewFirestoreBackend(ctx context.Context, projectID, database, collection, deviceID, credentialsFile string, encryptor crypto.Encryptor) (*FirestoreBackend, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("deviceID is required")
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database, opts...)
	} else {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreBackend{
		client:     client,
		collection: collection,
		deviceID:   deviceID,
		encryptor:  encryptor,
	}, nil
}

func (s *FirestoreBackend) Name() string { return "firestore" }

func (s *FirestoreBackend) doc() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.deviceID)
}

func (s *FirestoreBackend) Get(ctx context.Context) (string, error) {
	snap, err := s.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get credential from Firestore: %w", err)
	}

	var doc CredentialDoc
	if err := snap.DataTo(&doc); err != nil {
		return "", fmt.Errorf("failed to unmarshal credential: %w", err)
	}
	if doc.Value == "" {
		return "", ErrNotFound
	}

	value, err := s.encryptor.Decrypt(doc.Value)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return value, nil
}

func (s *FirestoreBackend) Put(ctx context.Context, value string) error {
	sealed, err := s.encryptor.Encrypt(value)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}

	_, err = s.doc().Set(ctx, CredentialDoc{
		Key:       CredentialKey,
		Value:     sealed,
		DeviceID:  s.deviceID,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to store credential in Firestore: %w", err)
	}
	return nil
}

// Delete succeeds when the document does not exist
func (s *FirestoreBackend) Delete(ctx context.Context) error {
	if _, err := s.doc().Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete credential from Firestore: %w", err)
	}
	return nil
}

// Close releases the Firestore client
func (s *FirestoreBackend) Close() error {
	return s.client.Close()
}
