package verifier

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"
)

func encryptAES256CBC(t *testing.T, plaintext string, key, iv []byte) string {
	t.Helper()

	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append([]byte(plaintext), bytes.Repeat([]byte{byte(padLen)}, padLen)...)

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return hex.EncodeToString(ciphertext)
}

func TestDeriveIV(t *testing.T) {
	iv := DeriveIV("im", "7e0b2c8d-3860-4b6a-bab4-2a2a4f6b48d5")
	require.Len(t, iv, 16)

	// the 64 bit digest fills both halves of the block
	require.Equal(t, iv[:8], iv[8:])

	h := fnv.New64a()
	h.Write([]byte("im7e0b2c8d-3860-4b6a-bab4-2a2a4f6b48d5"))
	require.Equal(t, h.Sum64(), binary.BigEndian.Uint64(iv[:8]))

	// deterministic per (prefix, session), distinct across sessions
	require.Equal(t, iv, DeriveIV("im", "7e0b2c8d-3860-4b6a-bab4-2a2a4f6b48d5"))
	require.NotEqual(t, iv, DeriveIV("im", "other-session"))
	require.NotEqual(t, iv, DeriveIV("xue", "7e0b2c8d-3860-4b6a-bab4-2a2a4f6b48d5"))
}

func TestDecryptAES256CBC(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	iv := DeriveIV("im", "session-1")
	plaintext := "---\ntitle: hello\n---\n\nsome markdown body\n"
	ciphertextHex := encryptAES256CBC(t, plaintext, key, iv)

	actual, err := DecryptAES256CBC(ciphertextHex, key, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, actual)

	t.Run("invalid hex", func(t *testing.T) {
		_, err := DecryptAES256CBC("not-hex", key, iv)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("wrong key length", func(t *testing.T) {
		_, err := DecryptAES256CBC(ciphertextHex, key[:10], iv)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("wrong key", func(t *testing.T) {
		otherKey := make([]byte, 32)
		_, err := rand.Read(otherKey)
		require.NoError(t, err)

		out, err := DecryptAES256CBC(ciphertextHex, otherKey, iv)
		if err == nil {
			// residual padding can decode by chance, but never to the plaintext
			require.NotEqual(t, plaintext, out)
		} else {
			require.ErrorIs(t, err, ErrDecrypt)
		}
	})

	t.Run("truncated ciphertext", func(t *testing.T) {
		_, err := DecryptAES256CBC(ciphertextHex[:10], key, iv)
		require.ErrorIs(t, err, ErrDecrypt)
	})

	t.Run("bad iv length", func(t *testing.T) {
		_, err := DecryptAES256CBC(ciphertextHex, key, iv[:8])
		require.ErrorIs(t, err, ErrDecrypt)
	})
}
