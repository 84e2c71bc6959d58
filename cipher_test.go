package pagekv

import (
	"bytes"
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAESCipherEncryptDecryptRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte("k"), 16) // AES-128
	c, err := NewAESCipher(key, aes.BlockSize)
	require.NoError(t, err)

	plaintext := bytes.Repeat([]byte("p"), aes.BlockSize)
	ciphertext, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	require.NoError(t, c.Decrypt(ciphertext))
	require.Equal(t, plaintext, ciphertext)

	c.Release(ciphertext)
}
