package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/NethermindEth/juno/core/crypto"
	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/curve"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// DefaultStarknetAccountClassHash is the OpenZeppelin account class whose
// constructor takes a single public key.
const DefaultStarknetAccountClassHash = "0x061dac032f228abef9c6626f995015233097ae253a7f72d68552db02f2971b8f"

var (
	// "STARKNET_CONTRACT_ADDRESS" as a felt.
	contractAddressPrefix = new(big.Int).SetBytes([]byte("STARKNET_CONTRACT_ADDRESS"))
	// Contract addresses live below 2^251 - 256.
	l2AddressUpperBound = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 251), big.NewInt(256))
)

// StarknetAccount is an account contract controlled by a STARK key.
type StarknetAccount struct {
	key       *big.Int
	publicKey *big.Int
	address   string
}

var _ Account = (*StarknetAccount)(nil)

// CreateStarknetAccount draws a fresh STARK key and computes the address
// the account contract will have once deployed with classHash.
func CreateStarknetAccount(classHash string) (*StarknetAccount, error) {
	hash, ok := new(big.Int).SetString(helpers.Strip0x(classHash), 16)
	if !ok {
		return nil, fmt.Errorf("invalid account class hash %q", classHash)
	}

	key, err := randomStarkKey()
	if err != nil {
		return nil, err
	}
	pub, err := starkPublicKey(key)
	if err != nil {
		return nil, err
	}

	return &StarknetAccount{
		key:       key,
		publicKey: pub,
		address:   StarknetAccountAddress(pub, hash),
	}, nil
}

// StarknetAccountFromHex imports a STARK key for an existing account. The
// address cannot be recovered from the key, so it must be supplied.
func StarknetAccountFromHex(secret, address string) (*StarknetAccount, error) {
	secret = helpers.Strip0x(strings.TrimSpace(secret))
	if secret == "" || len(secret) > 64 || !helpers.IsHex(secret) {
		return nil, ErrInvalidKeyFormat
	}
	key, _ := new(big.Int).SetString(secret, 16)
	if key.Sign() == 0 || key.Cmp(curve.Curve.N) >= 0 {
		return nil, ErrInvalidKeyFormat
	}

	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	normalized, err := chain.NormalizeStarknetAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAddressRequired, err)
	}

	pub, err := starkPublicKey(key)
	if err != nil {
		return nil, err
	}
	return &StarknetAccount{key: key, publicKey: pub, address: normalized}, nil
}

func randomStarkKey() (*big.Int, error) {
	for {
		k, err := rand.Int(rand.Reader, curve.Curve.N)
		if err != nil {
			return nil, fmt.Errorf("failed to generate stark key: %w", err)
		}
		if k.Sign() > 0 {
			return k, nil
		}
	}
}

func starkPublicKey(key *big.Int) (*big.Int, error) {
	x, _, err := curve.Curve.PrivateToPoint(key)
	if err != nil {
		return nil, fmt.Errorf("failed to derive stark public key: %w", err)
	}
	return x, nil
}

// StarknetAccountAddress computes the counterfactual address of an account
// deployed by the zero deployer, salted and constructed with the public key.
func StarknetAccountAddress(publicKey, classHash *big.Int) string {
	constructorHash := crypto.PedersenArray(toFelt(publicKey))
	h := crypto.PedersenArray(
		toFelt(contractAddressPrefix),
		new(felt.Felt), // deployer
		toFelt(publicKey),
		toFelt(classHash),
		constructorHash,
	)
	addr := new(big.Int).Mod(fromFelt(h), l2AddressUpperBound)
	return fmt.Sprintf("0x%064x", addr)
}

func toFelt(v *big.Int) *felt.Felt {
	var b [32]byte
	v.FillBytes(b[:])
	return new(felt.Felt).SetBytes(b[:])
}

func fromFelt(f *felt.Felt) *big.Int {
	return f.BigInt(new(big.Int))
}

func (a *StarknetAccount) Family() chain.Family { return chain.FamilyStarknet }

func (a *StarknetAccount) Address() string { return a.address }

func (a *StarknetAccount) PublicKey() string { return fmt.Sprintf("0x%x", a.publicKey) }

func (a *StarknetAccount) PrivateKey() string { return fmt.Sprintf("0x%064x", a.key) }

// SignHash produces a STARK ECDSA signature over a message hash.
func (a *StarknetAccount) SignHash(hash *big.Int) (r, s *big.Int, err error) {
	r, s, err = curve.Curve.Sign(hash, a.key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign: %w", err)
	}
	return r, s, nil
}

// HashElements is the Pedersen array hash used for relay messages.
func HashElements(elems ...*big.Int) *big.Int {
	felts := make([]*felt.Felt, len(elems))
	for i, e := range elems {
		felts[i] = toFelt(e)
	}
	return fromFelt(crypto.PedersenArray(felts...))
}

// DeploymentChecker reports whether a contract exists at an address.
type DeploymentChecker interface {
	IsDeployed(ctx context.Context, address string) (bool, error)
}

// starknetContractNotFound is the JSON-RPC error code for CONTRACT_NOT_FOUND.
const starknetContractNotFound = 20

// StarknetRPC queries a Starknet JSON-RPC node.
type StarknetRPC struct {
	client  *rpc.Client
	timeout time.Duration
}

// NewStarknetRPC creates a client for a Starknet node. Dialing HTTP
// endpoints is lazy; no request is made here.
func NewStarknetRPC(ctx context.Context, url string, timeout time.Duration) (*StarknetRPC, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial starknet rpc: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StarknetRPC{client: client, timeout: timeout}, nil
}

// IsDeployed calls starknet_getClassHashAt for the address.
func (r *StarknetRPC) IsDeployed(ctx context.Context, address string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var classHash string
	err := r.client.CallContext(ctx, &classHash, "starknet_getClassHashAt", "latest", address)
	if err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == starknetContractNotFound {
			return false, nil
		}
		return false, fmt.Errorf("starknet_getClassHashAt: %w", err)
	}
	return classHash != "" && classHash != "0x0", nil
}

// Close releases the underlying connection.
func (r *StarknetRPC) Close() {
	r.client.Close()
}
