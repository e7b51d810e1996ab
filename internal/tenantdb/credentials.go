package tenantdb

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/erp-backoffice/backoffice-server/pkg/crypto"
)

// CredentialCipher seals tenant database passwords with AES-GCM before
// they are persisted on the tenant record. The key is operator-supplied
// and lives only in process memory.
type CredentialCipher struct {
	key []byte
}

// NewCredentialCipher creates a cipher from a hex-encoded 256-bit key
func NewCredentialCipher(hexKey string) (*CredentialCipher, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("credential key must be 32 bytes, got %d", len(key))
	}
	return &CredentialCipher{key: key}, nil
}

// Encrypt seals a plaintext password and returns it base64-encoded
func (c *CredentialCipher) Encrypt(plaintext string) (string, error) {
	sealed, err := crypto.Encrypt(c.key, []byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypt credential: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a base64-encoded sealed password
func (c *CredentialCipher) Decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode credential: %w", err)
	}
	plaintext, err := crypto.Decrypt(c.key, sealed)
	if err != nil {
		return "", fmt.Errorf("decrypt credential: %w", err)
	}
	return string(plaintext), nil
}
