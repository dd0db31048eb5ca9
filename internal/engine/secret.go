package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// SecretSize is the length of an HTLC preimage.
const SecretSize = 32

// NewSecret generates an HTLC preimage and returns it with its SHA-256
// hash in hex.
func NewSecret() (secret []byte, secretHash string, err error) {
	secret, err = helpers.GenerateSecureRandom(SecretSize)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return secret, HashSecret(secret), nil
}

// HashSecret returns the hex SHA-256 of a preimage.
func HashSecret(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
