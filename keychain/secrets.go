package keychain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// EncryptPrivateKey encrypts raw private-key bytes with AES-256-CBC under a
// random IV, returning the hex-encoded "iv:ciphertext" form specified for
// secrets at rest. key must be exactly 32 bytes.
func EncryptPrivateKey(key []byte, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("keychain: building AES cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, block.BlockSize())

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("keychain: generating IV: %w", err)
	}

	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey: decrypt(encrypt(x)) == x
// for a plaintext x of any length. Encrypting the decrypted plaintext again
// yields a different string, since every encryption draws a fresh random IV.
func DecryptPrivateKey(key []byte, encoded string) ([]byte, error) {
	ivHex, ctHex, ok := strings.Cut(encoded, ":")
	if !ok {
		return nil, fmt.Errorf("keychain: malformed secret, expected iv:ciphertext")
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return nil, fmt.Errorf("keychain: decoding iv: %w", err)
	}
	ciphertext, err := hex.DecodeString(ctHex)
	if err != nil {
		return nil, fmt.Errorf("keychain: decoding ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keychain: building AES cipher: %w", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, fmt.Errorf("keychain: invalid iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("keychain: ciphertext is not a multiple of the block size")
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("keychain: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("keychain: invalid PKCS#7 padding")
	}
	return data[:len(data)-padLen], nil
}
