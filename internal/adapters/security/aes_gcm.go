package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// AESGCMEncryption seals patient identifiers with a key derived per subject
// from a master secret. Output is base64(nonce || ciphertext).
type AESGCMEncryption struct {
	secret []byte
}

func NewAESGCMEncryption(secret string) (*AESGCMEncryption, error) {
	if len(secret) < 16 {
		return nil, errors.New("encryption secret must be at least 16 bytes")
	}
	return &AESGCMEncryption{secret: []byte(secret)}, nil
}

func (e *AESGCMEncryption) Encrypt(subjectID string, value string) ([]byte, error) {
	gcm, err := e.cipher(subjectID)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(value), []byte(subjectID))
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func (e *AESGCMEncryption) Decrypt(subjectID string, payload []byte) (string, error) {
	gcm, err := e.cipher(subjectID)
	if err != nil {
		return "", err
	}
	decoded, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	if len(decoded) < gcm.NonceSize() {
		return "", errors.New("payload too short")
	}
	nonce, body := decoded[:gcm.NonceSize()], decoded[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, []byte(subjectID))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (e *AESGCMEncryption) cipher(subjectID string) (cipher.AEAD, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, e.secret, nil, []byte("patient:"+subjectID)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
