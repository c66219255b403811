package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrDecrypt = errors.New("unable to decrypt value")

// Encryptor seals custodian key material and TOTP secrets at rest with
// XChaCha20-Poly1305. Output is base64(nonce || ciphertext).
type Encryptor struct {
	key []byte
}

// NewEncryptor accepts a 32-byte key encoded as hex or base64.
func NewEncryptor(encodedKey string) (*Encryptor, error) {
	key, err := decodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	return &Encryptor{key: key}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if decoded, err := hex.DecodeString(encoded); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(decoded) == chacha20poly1305.KeySize {
		return decoded, nil
	}
	return nil, fmt.Errorf("encryption key must be %d bytes encoded as hex or base64", chacha20poly1305.KeySize)
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}
