package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealed, err := Encrypt("rough night, couldn't sleep", key, []byte("s-1"))
	require.NoError(t, err)

	plain, err := Decrypt(sealed, key, []byte("s-1"))
	require.NoError(t, err)
	assert.Equal(t, "rough night, couldn't sleep", plain)

	_, err = Decrypt(sealed, key, []byte("s-2"))
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = Decrypt(base64.StdEncoding.EncodeToString([]byte("short")), key, nil)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = Encrypt("x", []byte("too short"), nil)
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestKeyManager_SubjectKeys(t *testing.T) {
	master, err := GenerateKey()
	require.NoError(t, err)
	km, err := NewKeyManagerFromKey(master)
	require.NoError(t, err)

	k1, err := km.SubjectKey("s-1")
	require.NoError(t, err)
	k1again, err := km.SubjectKey("s-1")
	require.NoError(t, err)
	k2, err := km.SubjectKey("s-2")
	require.NoError(t, err)

	assert.Equal(t, k1, k1again)
	assert.NotEqual(t, k1, k2)

	// A second manager with the same master key derives the same keys.
	other, err := NewKeyManagerFromKey(master)
	require.NoError(t, err)
	sealed, err := km.EncryptText("s-1", "hello")
	require.NoError(t, err)
	plain, err := other.DecryptText("s-1", sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", plain)

	_, err = other.DecryptText("s-2", sealed)
	assert.Error(t, err)
}

func TestNewKeyManager_FromEnv(t *testing.T) {
	master, err := GenerateKey()
	require.NoError(t, err)

	t.Setenv("TEST_MASTER_KEY", base64.StdEncoding.EncodeToString(master))
	_, err = NewKeyManager("TEST_MASTER_KEY")
	require.NoError(t, err)

	t.Setenv("TEST_MASTER_KEY", "not-base64!")
	_, err = NewKeyManager("TEST_MASTER_KEY")
	assert.ErrorIs(t, err, ErrInvalidMasterKey)

	_, err = NewKeyManager("TEST_UNSET_MASTER_KEY")
	assert.ErrorIs(t, err, ErrMasterKeyNotSet)
}
