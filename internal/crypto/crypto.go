// Package crypto provides AES-256-GCM encryption for data at rest: webhook
// endpoint secrets (encrypted with a fixed operator-supplied key) and tenant
// session blobs (encrypted with a per-tenant passphrase via PBKDF2).
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidKey      = errors.New("encryption key must be 32 bytes for AES-256")
	ErrInvalidCipher   = errors.New("invalid ciphertext")
	ErrUnknownVersion  = errors.New("unrecognized session blob version")
	ErrMalformedBlob   = errors.New("malformed session blob")
)

// Encryptor provides AES-256-GCM encryption for sensitive data using a
// fixed, caller-supplied key (e.g. webhook endpoint secrets).
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates a new Encryptor with the given key.
// The key must be exactly 32 bytes for AES-256.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Encrypt encrypts plaintext and returns base64-encoded ciphertext.
// The output format is: base64(nonce || ciphertext || tag)
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.gcm.Seal(nonce, nonce, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts base64-encoded ciphertext and returns plaintext.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	nonceSize := e.gcm.NonceSize()
	if len(data) < nonceSize+1 {
		return "", ErrInvalidCipher
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := e.gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}

// GenerateKey generates a random 32-byte key for AES-256.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

const (
	// sessionBlobVersion prefixes every session blob so a future key-derivation
	// scheme can be introduced without breaking blobs encrypted under this one.
	sessionBlobVersion = "LLMB_ENC_V1"
	pbkdf2Iterations    = 100000
	saltSize            = 16
)

// SessionBlobEncryptor encrypts tenant session state (cookies, storage
// state, auth headers) passed to the playwright tier. Unlike Encryptor it
// takes a passphrase rather than a raw key, deriving a fresh AES-256 key per
// blob via PBKDF2-HMAC-SHA256 with a random salt, so a leaked derived key
// never exposes the tenant's other blobs.
type SessionBlobEncryptor struct {
	secret string
}

// NewSessionBlobEncryptor builds an encryptor bound to the given secret.
func NewSessionBlobEncryptor(secret string) *SessionBlobEncryptor {
	return &SessionBlobEncryptor{secret: secret}
}

func deriveSessionKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, 32, sha256.New)
}

// Encrypt returns a versioned, self-contained blob: "LLMB_ENC_V1:" followed
// by base64(salt || nonce || ciphertext || tag).
func (s *SessionBlobEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := deriveSessionKey(s.secret, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)

	return sessionBlobVersion + ":" + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt reverses Encrypt. It rejects blobs carrying any version sentinel
// other than the one this build understands.
func (s *SessionBlobEncryptor) Decrypt(blob string) (string, error) {
	if blob == "" {
		return "", nil
	}

	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return "", ErrMalformedBlob
	}
	if parts[0] != sessionBlobVersion {
		return "", ErrUnknownVersion
	}

	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode blob: %w", err)
	}
	if len(data) < saltSize {
		return "", ErrMalformedBlob
	}

	salt, rest := data[:saltSize], data[saltSize:]
	key := deriveSessionKey(s.secret, salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize+1 {
		return "", ErrMalformedBlob
	}
	nonce, ciphertext := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}

	return string(plaintext), nil
}
