package wallet

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

// EVMAccount is a secp256k1 account on any EVM chain.
type EVMAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

var _ Account = (*EVMAccount)(nil)

// NewEVMAccount wraps a secp256k1 key.
func NewEVMAccount(priv *btcec.PrivateKey) (*EVMAccount, error) {
	key, err := crypto.ToECDSA(priv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("failed to convert key: %w", err)
	}
	return &EVMAccount{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// EVMAccountFromHex imports a hex private key (with or without 0x).
func EVMAccountFromHex(secret string) (*EVMAccount, error) {
	priv, err := parseSecp256k1Hex(secret)
	if err != nil {
		return nil, err
	}
	return NewEVMAccount(priv)
}

// EVMAccountFromMnemonic derives m/44'/60'/0'/0/0.
func EVMAccountFromMnemonic(mnemonic string) (*EVMAccount, error) {
	priv, err := deriveKey(mnemonic, evmPath)
	if err != nil {
		return nil, err
	}
	return NewEVMAccount(priv)
}

func (a *EVMAccount) Family() chain.Family { return chain.FamilyEVM }

// Address returns the EIP-55 checksummed address.
func (a *EVMAccount) Address() string { return a.address.Hex() }

// CommonAddress returns the address as a go-ethereum type.
func (a *EVMAccount) CommonAddress() common.Address { return a.address }

// PublicKey returns the compressed public key as hex.
func (a *EVMAccount) PublicKey() string {
	return hexutil.Encode(crypto.CompressPubkey(&a.key.PublicKey))
}

func (a *EVMAccount) PrivateKey() string {
	return hexutil.Encode(crypto.FromECDSA(a.key))
}

// SignHash signs a 32-byte digest and returns r || s || v with v in {27, 28}.
func (a *EVMAccount) SignHash(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := crypto.Sign(hash, a.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// SignTypedData signs EIP-712 typed data.
func (a *EVMAccount) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(td)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return a.SignHash(hash)
}

// PersonalSign signs a message with the "\x19Ethereum Signed Message" prefix.
func (a *EVMAccount) PersonalSign(message []byte) ([]byte, error) {
	return a.SignHash(accounts.TextHash(message))
}
