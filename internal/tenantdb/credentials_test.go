package tenantdb

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp-backoffice/backoffice-server/pkg/crypto"
)

func testKey(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateRandomBytes(32)
	require.NoError(t, err)
	return hex.EncodeToString(key)
}

func TestNewCredentialCipherRejectsBadKeys(t *testing.T) {
	_, err := NewCredentialCipher("not-hex")
	assert.Error(t, err)

	_, err = NewCredentialCipher("abcd")
	assert.Error(t, err)
}

func TestCredentialCipherRoundTrip(t *testing.T) {
	cipher, err := NewCredentialCipher(testKey(t))
	require.NoError(t, err)

	password, err := crypto.GeneratePassword(24)
	require.NoError(t, err)

	sealed, err := cipher.Encrypt(password)
	require.NoError(t, err)
	assert.NotEqual(t, password, sealed)
	assert.NotContains(t, sealed, password)

	opened, err := cipher.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, password, opened)
}

func TestCredentialCipherRejectsTamperedPayload(t *testing.T) {
	cipher, err := NewCredentialCipher(testKey(t))
	require.NoError(t, err)

	_, err = cipher.Decrypt("bm90IGEgdmFsaWQgcGF5bG9hZA==")
	assert.Error(t, err)
}
