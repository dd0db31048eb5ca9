package wallet

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/tyler-smith/go-bip39"
)

// Mnemonic word counts accepted for import.
const (
	MnemonicWords12 = 12
	MnemonicWords24 = 24
)

// GenerateMnemonic generates a new BIP39 mnemonic with 12 or 24 words.
func GenerateMnemonic(words int) (string, error) {
	var bits int
	switch words {
	case MnemonicWords12:
		bits = 128
	case MnemonicWords24:
		bits = 256
	default:
		return "", fmt.Errorf("unsupported mnemonic length %d", words)
	}

	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to generate mnemonic: %w", err)
	}

	return mnemonic, nil
}

// NormalizeMnemonic lowercases and collapses whitespace.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

// ValidateMnemonic checks word count (12 or 24) and the BIP39 checksum.
func ValidateMnemonic(mnemonic string) bool {
	words := strings.Fields(mnemonic)
	if len(words) != MnemonicWords12 && len(words) != MnemonicWords24 {
		return false
	}
	return bip39.IsMnemonicValid(NormalizeMnemonic(mnemonic))
}

// hdPath is a BIP44-style path m/purpose'/coin'/account'/change/index.
type hdPath struct {
	purpose, coinType, account, change, index uint32
}

var (
	evmPath         = hdPath{purpose: 44, coinType: 60}
	bitcoinMainPath = hdPath{purpose: 84, coinType: 0}
	bitcoinTestPath = hdPath{purpose: 84, coinType: 1}
)

const hardenedKeyOffset uint32 = hdkeychain.HardenedKeyStart

// deriveKey derives the private key at path from a mnemonic.
func deriveKey(mnemonic string, path hdPath) (*btcec.PrivateKey, error) {
	mnemonic = NormalizeMnemonic(mnemonic)
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}

	seed := bip39.NewSeed(mnemonic, "")
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	steps := []struct {
		name  string
		index uint32
	}{
		{"purpose", hardenedKeyOffset + path.purpose},
		{"coin", hardenedKeyOffset + path.coinType},
		{"account", hardenedKeyOffset + path.account},
		{"change", path.change},
		{"address", path.index},
	}

	key := master
	for _, step := range steps {
		key, err = key.Derive(step.index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive %s: %w", step.name, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	return priv, nil
}
