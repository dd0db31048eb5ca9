package wallet

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// Custody errors. The service wraps them as invalid input for users.
var (
	ErrInvalidKeyFormat      = errors.New("invalid private key format")
	ErrInvalidMnemonicFormat = errors.New("mnemonic must be 12 or 24 valid BIP39 words")
	ErrMnemonicUnsupported   = errors.New("mnemonic import is not supported for this chain family")
	ErrAddressRequired       = errors.New("an account address is required for this chain family")
	ErrUnsupportedFamily     = errors.New("unsupported chain family")
)

// Account is a usable key for one chain family.
type Account interface {
	Family() chain.Family
	Address() string
	PublicKey() string
	// PrivateKey returns the 0x-prefixed hex secret.
	PrivateKey() string
}

// Record is the session form of a wallet: plaintext secrets live here only
// while the owner is logged in and are never persisted in this shape.
type Record struct {
	ID         int64
	Family     chain.Family
	Address    string
	PublicKey  string
	PrivateKey string
	Mnemonic   string

	// ContractDeployed is only meaningful for Starknet accounts.
	ContractDeployed *bool

	CreatedAt time.Time
}

// Clear drops the plaintext secrets.
func (r *Record) Clear() {
	r.PrivateKey = ""
	r.Mnemonic = ""
}

// HasMnemonic reports whether the record was created from a phrase.
func (r *Record) HasMnemonic() bool {
	return r.Mnemonic != ""
}

func recordFromAccount(acct Account, mnemonic string) *Record {
	return &Record{
		Family:     acct.Family(),
		Address:    acct.Address(),
		PublicKey:  acct.PublicKey(),
		PrivateKey: acct.PrivateKey(),
		Mnemonic:   mnemonic,
		CreatedAt:  time.Now(),
	}
}

// parseSecp256k1Hex parses a 32-byte hex scalar in [1, n).
func parseSecp256k1Hex(s string) (*btcec.PrivateKey, error) {
	s = helpers.Strip0x(strings.TrimSpace(s))
	if len(s) != 64 || !helpers.IsHex(s) {
		return nil, ErrInvalidKeyFormat
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	defer helpers.SecureClear(b)

	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow || scalar.IsZero() {
		return nil, ErrInvalidKeyFormat
	}
	return secp256k1.NewPrivateKey(&scalar), nil
}
