// Package wallet implements key custody: the password-based envelope cipher,
// per-family chain accounts (EVM, Bitcoin, Starknet) and the custody service
// that creates and imports them.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// Argon2 parameters (OWASP recommended for password hashing)
const (
	argon2Time        = 3         // Number of iterations
	argon2Memory      = 64 * 1024 // 64 MB memory
	argon2Parallelism = 4         // Parallel threads
	argon2KeyLen      = 32        // Output key length for AES-256
	argon2SaltLen     = 32

	gcmTagLen = 16
)

var (
	// ErrDecrypt is returned when authentication of an envelope fails,
	// which is what a wrong password looks like.
	ErrDecrypt = errors.New("failed to decrypt (wrong password?)")
	// ErrMalformedEnvelope is returned for strings that are not envelopes.
	ErrMalformedEnvelope = errors.New("malformed cipher envelope")
)

// Envelope is one encrypted secret. Its string form is
// hex(salt):hex(iv):hex(authTag):hex(ciphertext).
type Envelope struct {
	Salt       []byte
	IV         []byte
	AuthTag    []byte
	Ciphertext []byte
}

// String serializes the envelope for storage.
func (e *Envelope) String() string {
	return strings.Join([]string{
		hex.EncodeToString(e.Salt),
		hex.EncodeToString(e.IV),
		hex.EncodeToString(e.AuthTag),
		hex.EncodeToString(e.Ciphertext),
	}, ":")
}

// ParseEnvelope parses the stored form of an envelope.
func ParseEnvelope(s string) (*Envelope, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: expected 4 parts, got %d", ErrMalformedEnvelope, len(parts))
	}

	decoded := make([][]byte, len(parts))
	for i, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("%w: part %d: %v", ErrMalformedEnvelope, i, err)
		}
		decoded[i] = b
	}

	env := &Envelope{Salt: decoded[0], IV: decoded[1], AuthTag: decoded[2], Ciphertext: decoded[3]}
	if len(env.Salt) == 0 || len(env.IV) == 0 || len(env.AuthTag) != gcmTagLen {
		return nil, fmt.Errorf("%w: bad field lengths", ErrMalformedEnvelope)
	}
	return env, nil
}

// CipherConfig holds the key-derivation cost parameters.
type CipherConfig struct {
	Time        uint32
	Memory      uint32 // KiB
	Parallelism uint8
}

// DefaultCipherConfig returns the production Argon2id parameters.
func DefaultCipherConfig() *CipherConfig {
	return &CipherConfig{
		Time:        argon2Time,
		Memory:      argon2Memory,
		Parallelism: argon2Parallelism,
	}
}

// Cipher encrypts secrets under a password-derived key using Argon2id and
// AES-256-GCM. A fresh salt and IV are drawn for every envelope.
type Cipher struct {
	cfg CipherConfig
}

// NewCipher creates a cipher. A nil config selects the defaults.
func NewCipher(cfg *CipherConfig) *Cipher {
	if cfg == nil {
		cfg = DefaultCipherConfig()
	}
	c := *cfg
	if c.Time == 0 {
		c.Time = argon2Time
	}
	if c.Memory == 0 {
		c.Memory = argon2Memory
	}
	if c.Parallelism == 0 {
		c.Parallelism = argon2Parallelism
	}
	return &Cipher{cfg: c}
}

func (c *Cipher) gcm(password string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, c.cfg.Time, c.cfg.Memory, c.cfg.Parallelism, argon2KeyLen)
	defer helpers.SecureClear(key)

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

// Encrypt seals plaintext under password and returns the envelope string.
func (c *Cipher) Encrypt(plaintext []byte, password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := c.gcm(password, salt)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmTagLen

	env := &Envelope{
		Salt:       salt,
		IV:         iv,
		AuthTag:    sealed[split:],
		Ciphertext: sealed[:split],
	}
	return env.String(), nil
}

// Decrypt opens an envelope string. A wrong password or any tampering
// fails with ErrDecrypt; no partial plaintext is returned.
func (c *Cipher) Decrypt(envelope, password string) ([]byte, error) {
	env, err := ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	gcm, err := c.gcm(password, env.Salt)
	if err != nil {
		return nil, err
	}
	if len(env.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: iv length %d", ErrMalformedEnvelope, len(env.IV))
	}

	sealed := make([]byte, 0, len(env.Ciphertext)+len(env.AuthTag))
	sealed = append(sealed, env.Ciphertext...)
	sealed = append(sealed, env.AuthTag...)

	plaintext, err := gcm.Open(nil, env.IV, sealed, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// EncryptString is Encrypt for string secrets.
func (c *Cipher) EncryptString(secret, password string) (string, error) {
	return c.Encrypt([]byte(secret), password)
}

// DecryptString is Decrypt for string secrets.
func (c *Cipher) DecryptString(envelope, password string) (string, error) {
	b, err := c.Decrypt(envelope, password)
	if err != nil {
		return "", err
	}
	defer helpers.SecureClear(b)
	return string(b), nil
}

// HashPassword returns a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches a bcrypt hash.
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Password validation constants
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72 // bcrypt input limit
)

// ValidatePassword validates password strength.
// Requires at least 8 characters and 3 of 4 character types.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("password must be at most %d characters", MaxPasswordLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	complexity := 0
	for _, ok := range []bool{hasUpper, hasLower, hasNumber, hasSpecial} {
		if ok {
			complexity++
		}
	}
	if complexity < 3 {
		return fmt.Errorf("password must contain at least 3 of: uppercase, lowercase, number, special character")
	}

	return nil
}
