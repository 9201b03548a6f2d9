package cipher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	return key
}

func TestKeyring_RoundTrip(t *testing.T) {
	k, err := NewKeyring(1, newKey(t), nil)
	require.NoError(t, err)

	payloads := []string{"", "hello", "привет 👋", string(make([]byte, 4096))}
	for _, p := range payloads {
		ct, err := k.Encrypt([]byte(p))
		require.NoError(t, err)
		assert.NotContains(t, string(ct), "hello")

		pt, err := k.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, p, string(pt))
	}
}

func TestKeyring_FreshNoncePerCall(t *testing.T) {
	k, err := NewKeyring(1, newKey(t), nil)
	require.NoError(t, err)

	a, err := k.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := k.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyring_WrongKeyIsDecodeError(t *testing.T) {
	writer, err := NewKeyring(1, newKey(t), nil)
	require.NoError(t, err)
	reader, err := NewKeyring(1, newKey(t), nil)
	require.NoError(t, err)

	ct, err := writer.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = reader.Decrypt(ct)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestKeyring_Rotation(t *testing.T) {
	oldKey, newKeyBytes := newKey(t), newKey(t)

	before, err := NewKeyring(1, oldKey, nil)
	require.NoError(t, err)
	ct, err := before.Encrypt([]byte("written before rotation"))
	require.NoError(t, err)

	after, err := NewKeyring(2, newKeyBytes, map[uint8][]byte{1: oldKey})
	require.NoError(t, err)

	pt, err := after.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "written before rotation", string(pt))

	fresh, err := after.Encrypt([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, byte(2), fresh[1])

	_, err = before.Decrypt(fresh)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestKeyring_Malformed(t *testing.T) {
	k, err := NewKeyring(1, newKey(t), nil)
	require.NoError(t, err)

	for _, ct := range [][]byte{nil, []byte("legacy fernet token"), {formatVersion, 1}} {
		_, err := k.Decrypt(ct)
		var de *DecodeError
		assert.True(t, errors.As(err, &de))
	}

	ct, err := k.Encrypt([]byte("tamper"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff
	_, err = k.Decrypt(ct)
	assert.ErrorIs(t, err, ErrAuthFailed)
}

func TestNewKeyring_InvalidKeys(t *testing.T) {
	_, err := NewKeyring(1, []byte("short"), nil)
	assert.Error(t, err)

	key := newKey(t)
	_, err = NewKeyring(1, key, map[uint8][]byte{1: key})
	assert.Error(t, err)

	_, err = NewKeyringFromBase64(1, "%%%", nil)
	assert.ErrorContains(t, err, "failed to decode primary key")
}
