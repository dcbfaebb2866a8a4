// Package secrets encrypts connected-account API keys at rest with AES-256-GCM
// using keys derived per startup from a master key via PBKDF2.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidKey       = errors.New("invalid encryption key")
	ErrDecryptionFailed = errors.New("decryption failed - data may be corrupted or key is wrong")
)

// DefaultIterations is the PBKDF2 work factor.
const DefaultIterations = 100000

// Sealed is an encrypted value with the material needed to open it.
type Sealed struct {
	Ciphertext  string
	Salt        string
	Fingerprint string
}

type derivedKey struct {
	key         []byte
	fingerprint string
}

// Manager seals and opens secrets bound to a scope (a startup ID).
type Manager struct {
	masterKey  []byte
	iterations int

	mu       sync.RWMutex
	keyCache map[string]*derivedKey
}

// Option configures a Manager.
type Option func(*Manager)

// WithIterations overrides the PBKDF2 work factor.
func WithIterations(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.iterations = n
		}
	}
}

// NewManager creates a manager from a base64 master key of at least 32 bytes.
func NewManager(masterKeyBase64 string, opts ...Option) (*Manager, error) {
	if masterKeyBase64 == "" {
		return nil, ErrInvalidKey
	}

	masterKey, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format: %w", err)
	}
	if len(masterKey) < 32 {
		return nil, ErrInvalidKey
	}

	m := &Manager{
		masterKey:  masterKey,
		iterations: DefaultIterations,
		keyCache:   make(map[string]*derivedKey),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GenerateMasterKey creates a new random master key for initial setup
func GenerateMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// deriveKey is cached by scope and salt; salts are unique per sealed value,
// so the cache holds one entry per stored key.
func (m *Manager) deriveKey(scope string, salt []byte) *derivedKey {
	cacheKey := scope + ":" + string(salt)

	m.mu.RLock()
	dk, ok := m.keyCache[cacheKey]
	m.mu.RUnlock()
	if ok {
		return dk
	}

	material := make([]byte, 0, len(m.masterKey)+len(scope)+8)
	material = append(material, m.masterKey...)
	material = append(material, []byte("startup:"+scope)...)

	key := pbkdf2.Key(material, salt, m.iterations, 32, sha256.New)
	sum := sha256.Sum256(key)
	dk = &derivedKey{key: key, fingerprint: base64.StdEncoding.EncodeToString(sum[:8])}

	m.mu.Lock()
	m.keyCache[cacheKey] = dk
	m.mu.Unlock()
	return dk
}

// Seal encrypts value for scope with a fresh salt and nonce.
func (m *Manager) Seal(scope, value string) (*Sealed, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	dk := m.deriveKey(scope, salt)
	gcm, err := newGCM(dk.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	// The scope is authenticated so a ciphertext cannot be replayed onto another startup.
	ciphertext := gcm.Seal(nonce, nonce, []byte(value), []byte(scope))

	return &Sealed{
		Ciphertext:  base64.StdEncoding.EncodeToString(ciphertext),
		Salt:        base64.StdEncoding.EncodeToString(salt),
		Fingerprint: dk.fingerprint,
	}, nil
}

// Open decrypts a value sealed for scope.
func (m *Manager) Open(scope, ciphertextBase64, saltBase64 string) (string, error) {
	salt, err := base64.StdEncoding.DecodeString(saltBase64)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	dk := m.deriveKey(scope, salt)
	gcm, err := newGCM(dk.key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}

	plaintext, err := gcm.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], []byte(scope))
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// Hash returns a keyed, deterministic digest of value for uniqueness checks.
func (m *Manager) Hash(value string) string {
	mac := hmac.New(sha256.New, m.masterKey)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
