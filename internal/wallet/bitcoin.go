package wallet

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

// BitcoinAccount is a native SegWit (P2WPKH) key.
type BitcoinAccount struct {
	key     *btcec.PrivateKey
	address *btcutil.AddressWitnessPubKeyHash
	params  *chaincfg.Params
}

var _ Account = (*BitcoinAccount)(nil)

// NewBitcoinAccount wraps a key for the given network.
func NewBitcoinAccount(priv *btcec.PrivateKey, network chain.Network) (*BitcoinAccount, error) {
	params := chain.BitcoinParams(network)
	pubKeyHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create P2WPKH address: %w", err)
	}
	return &BitcoinAccount{key: priv, address: addr, params: params}, nil
}

// BitcoinAccountFromSecret imports a hex private key or a WIF string.
func BitcoinAccountFromSecret(secret string, network chain.Network) (*BitcoinAccount, error) {
	secret = strings.TrimSpace(secret)
	if priv, err := parseSecp256k1Hex(secret); err == nil {
		return NewBitcoinAccount(priv, network)
	}

	wif, err := btcutil.DecodeWIF(secret)
	if err != nil {
		return nil, ErrInvalidKeyFormat
	}
	if !wif.IsForNet(chain.BitcoinParams(network)) {
		return nil, fmt.Errorf("%w: WIF is for a different network", ErrInvalidKeyFormat)
	}
	return NewBitcoinAccount(wif.PrivKey, network)
}

// BitcoinAccountFromMnemonic derives m/84'/coin'/0'/0/0 where coin is 0 on
// mainnet and 1 on testnet.
func BitcoinAccountFromMnemonic(mnemonic string, network chain.Network) (*BitcoinAccount, error) {
	path := bitcoinTestPath
	if network == chain.Mainnet {
		path = bitcoinMainPath
	}
	priv, err := deriveKey(mnemonic, path)
	if err != nil {
		return nil, err
	}
	return NewBitcoinAccount(priv, network)
}

func (a *BitcoinAccount) Family() chain.Family { return chain.FamilyUTXO }

func (a *BitcoinAccount) Address() string { return a.address.EncodeAddress() }

func (a *BitcoinAccount) PublicKey() string {
	return hexutil.Encode(a.key.PubKey().SerializeCompressed())
}

func (a *BitcoinAccount) PrivateKey() string {
	return hexutil.Encode(a.key.Serialize())
}

// WIF returns the compressed WIF encoding of the key.
func (a *BitcoinAccount) WIF() (string, error) {
	wif, err := btcutil.NewWIF(a.key, a.params, true)
	if err != nil {
		return "", fmt.Errorf("failed to create WIF: %w", err)
	}
	return wif.String(), nil
}

const bitcoinMessageMagic = "Bitcoin Signed Message:\n"

// BitcoinMessageHash returns the double SHA-256 digest used by Bitcoin
// message signing.
func BitcoinMessageHash(message []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, bitcoinMessageMagic)
	_ = wire.WriteVarBytes(&buf, 0, message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// SignMessage produces a 65-byte compact signature over message.
func (a *BitcoinAccount) SignMessage(message []byte) ([]byte, error) {
	return ecdsa.SignCompact(a.key, BitcoinMessageHash(message), true), nil
}
