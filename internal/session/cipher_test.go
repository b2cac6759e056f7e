package session

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher(testKey(t), []byte("0123456789ab"))
	require.NoError(t, err)
	assert.True(t, c.Enabled())

	sealed, err := c.Seal([]byte("secret"))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")

	again, err := c.Seal([]byte("secret"))
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonce must differ per seal")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)
}

func TestCipher_AssociatedDataMustMatch(t *testing.T) {
	key := testKey(t)
	a, err := NewCipher(key, []byte("iv-a-12bytes"))
	require.NoError(t, err)
	b, err := NewCipher(key, []byte("iv-b-12bytes"))
	require.NoError(t, err)

	sealed, err := a.Seal([]byte("secret"))
	require.NoError(t, err)
	_, err = b.Open(sealed)
	assert.Error(t, err)
}

func TestCipher_Disabled(t *testing.T) {
	for _, c := range []*Cipher{nil, {}} {
		assert.False(t, c.Enabled())
		sealed, err := c.Seal([]byte("plain"))
		require.NoError(t, err)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("plain")), sealed)

		plain, err := c.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, []byte("plain"), plain)
	}
}

func TestCipher_Tampered(t *testing.T) {
	c, err := NewCipher(testKey(t), nil)
	require.NoError(t, err)

	_, err = c.Open("not base64!")
	assert.Error(t, err)

	_, err = c.Open(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestNewCipher_KeySize(t *testing.T) {
	_, err := NewCipher(make([]byte, 16), nil)
	assert.Error(t, err)
}

func TestKeyFromBase64(t *testing.T) {
	key, err := KeyFromBase64("")
	require.NoError(t, err)
	assert.Nil(t, key)

	_, err = KeyFromBase64("%%%")
	assert.Error(t, err)

	_, err = KeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 8)))
	assert.Error(t, err)

	key, err = KeyFromBase64(base64.StdEncoding.EncodeToString(make([]byte, KeySize)))
	require.NoError(t, err)
	assert.Len(t, key, KeySize)
}

func TestIVFromBase64(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"gcm nonce size", 12, false},
		{"block size", 16, false},
		{"too short", 8, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IVFromBase64(base64.StdEncoding.EncodeToString(make([]byte, tt.size)))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
