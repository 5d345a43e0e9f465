package verifier

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
)

var ErrDecrypt = errors.New("failed to decrypt content")

// DeriveIV derives the AES-CBC initialization vector used by encrypted
// posts: the 64 bit FNV-1a digest of prefix||session, big-endian, repeated
// to fill a 16 byte block. This is the wire protocol's historical scheme;
// the IV is not a MAC and carries no integrity guarantee.
func DeriveIV(prefix, session string) []byte {
	h := fnv.New64a()
	h.Write([]byte(prefix + session))
	sum := h.Sum64()

	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[:8], sum)
	binary.BigEndian.PutUint64(iv[8:], sum)
	return iv
}

// DecryptAES256CBC decrypts hex encoded AES-256-CBC ciphertext and strips
// the PKCS#7 padding.
func DecryptAES256CBC(ciphertextHex string, key, iv []byte) (string, error) {
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", errors.Join(ErrDecrypt, fmt.Errorf("ciphertext is not valid hex: %w", err))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errors.Join(ErrDecrypt, err)
	}
	if len(iv) != aes.BlockSize {
		return "", errors.Join(ErrDecrypt, fmt.Errorf("iv length: %d", len(iv)))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.Join(ErrDecrypt, fmt.Errorf("ciphertext length: %d", len(ciphertext)))
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = stripPKCS7(plaintext)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

func stripPKCS7(data []byte) ([]byte, error) {
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, errors.Join(ErrDecrypt, fmt.Errorf("invalid padding length: %d", padLen))
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.Join(ErrDecrypt, errors.New("invalid padding"))
		}
	}
	return data[:len(data)-padLen], nil
}
