package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const keySize = 32

func loadKey(base64Key string) (cipher.AEAD, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}

// SealBytes encrypts a blob with AES-GCM. The nonce is prepended to the
// ciphertext so the output is self-contained.
func SealBytes(plaintext []byte, base64Key string) ([]byte, error) {
	gcm, err := loadKey(base64Key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenBytes reverses SealBytes.
func OpenBytes(sealed []byte, base64Key string) ([]byte, error) {
	gcm, err := loadKey(base64Key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce := sealed[:gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Encrypt seals a string value for storage, returning base64.
// Empty input stays empty.
func Encrypt(plaintext, base64Key string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := SealBytes([]byte(plaintext), base64Key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertextB64, base64Key string) (string, error) {
	if ciphertextB64 == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := OpenBytes(raw, base64Key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
