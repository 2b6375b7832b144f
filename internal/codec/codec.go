package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/crypto/scrypt"
)

// Codec encrypts message bodies at rest with AES-256-CBC. The wire format is
// base64(iv) + ":" + base64(ciphertext). Decrypt is deliberately tolerant:
// stored rows that predate encryption, or rows written with a rotated key,
// are returned verbatim so read paths never fail on content.
type Codec struct {
	key []byte
}

var errBadPadding = errors.New("invalid pkcs7 padding")

// New derives the AES key from the shared secret. A missing secret is a
// configuration error and the only fatal condition in this package.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("codec: encryption secret is required")
	}
	key, err := scrypt.Key([]byte(secret), []byte("salt"), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("codec: derive key: %w", err)
	}
	return &Codec{key: key}, nil
}

// Encrypt returns the two-part token for plaintext, using a fresh random IV
// per call.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Input that does not match the iv:ciphertext
// format is assumed to be legacy plaintext and returned unchanged. A
// well-formed token that fails to decrypt is logged and returned unchanged.
func (c *Codec) Decrypt(token string) string {
	parts := strings.Split(token, ":")
	if len(parts) != 2 {
		return token
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return token
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return token
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return token
	}

	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		slog.Warn("Decryption failed, returning stored content", "error", err)
		return token
	}
	return string(unpadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errBadPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errBadPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errBadPadding
		}
	}
	return data[:len(data)-n], nil
}
