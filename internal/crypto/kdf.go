package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const storageKeyInfo = "agrosense session store v1"

// DeriveStorageKey stretches the configured encryption secret into a 32-byte
// AES key bound to one device. A credential file copied to another device
// does not decrypt there.
func DeriveStorageKey(secret []byte, deviceID string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret is required")
	}
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}

	r := hkdf.New(sha256.New, secret, []byte(deviceID), []byte(storageKeyInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving storage key: %w", err)
	}
	return key, nil
}

// NewDeviceEncryptor derives the device key and returns an Encryptor for it
func NewDeviceEncryptor(secret []byte, deviceID string) (Encryptor, error) {
	key, err := DeriveStorageKey(secret, deviceID)
	if err != nil {
		return nil, err
	}
	return NewEncryptor(key)
}
