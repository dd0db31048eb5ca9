package engine

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
)

// Legs a relay call acts on.
const (
	performOnSource      = "Source"
	performOnDestination = "Destination"
)

type initiateRequest struct {
	OrderID   string      `json:"order_id"`
	Signature interface{} `json:"signature"`
	PerformOn string      `json:"perform_on"`
}

type redeemRequest struct {
	OrderID   string `json:"order_id"`
	Secret    string `json:"secret"`
	PerformOn string `json:"perform_on"`
}

// InitiateEVM signs the source leg's EIP-712 Initiate message and hands it
// to the EVM relayer, which funds the HTLC. Returns the init tx hash.
func (c *Client) InitiateEVM(ctx context.Context, order *Order, signer TypedDataSigner) (string, error) {
	if chain.FamilyOf(order.SourceSwap.Chain) != chain.FamilyEVM {
		return "", fmt.Errorf("%w: %s", ErrWrongSourceChain, order.SourceSwap.Chain)
	}

	td, err := InitiateTypedData(order)
	if err != nil {
		return "", err
	}
	sig, err := signer.SignTypedData(td)
	if err != nil {
		return "", fmt.Errorf("failed to sign initiate: %w", err)
	}

	var txHash string
	req := initiateRequest{
		OrderID:   order.ID(),
		Signature: hexutil.Encode(sig),
		PerformOn: performOnSource,
	}
	if err := c.do(ctx, http.MethodPost, joinURL(c.cfg.EVMRelayerURL, "initiate"), req, &txHash); err != nil {
		return "", err
	}

	c.log.Info("Initiated via EVM relayer", "order_id", order.ID(), "tx", txHash)
	c.emit(Event{Type: EventSuccess, OrderID: order.ID(), Order: order, Action: ActionInit, TxHash: txHash})
	return txHash, nil
}

// InitiateTypedData builds the EIP-712 Initiate message for an order's
// source leg.
func InitiateTypedData(order *Order) (apitypes.TypedData, error) {
	swap := order.SourceSwap
	params, ok := chain.Get(swap.Chain)
	if !ok || params.ChainID == 0 {
		return apitypes.TypedData{}, fmt.Errorf("unknown EVM chain %q", swap.Chain)
	}
	if !common.IsHexAddress(swap.Redeemer) {
		return apitypes.TypedData{}, fmt.Errorf("invalid redeemer %q", swap.Redeemer)
	}
	amount, ok := new(big.Int).SetString(swap.Amount, 10)
	if !ok {
		return apitypes.TypedData{}, fmt.Errorf("invalid amount %q", swap.Amount)
	}
	secretHash, err := helpers.HexToBytes(swap.SecretHash)
	if err != nil || len(secretHash) != 32 {
		return apitypes.TypedData{}, fmt.Errorf("invalid secret hash %q", swap.SecretHash)
	}

	chainID := math.NewHexOrDecimal256(int64(params.ChainID))
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Initiate": {
				{Name: "redeemer", Type: "address"},
				{Name: "timelock", Type: "uint256"},
				{Name: "amount", Type: "uint256"},
				{Name: "secretHash", Type: "bytes32"},
			},
		},
		PrimaryType: "Initiate",
		Domain: apitypes.TypedDataDomain{
			Name:              "HTLC",
			Version:           "1",
			ChainId:           chainID,
			VerifyingContract: common.HexToAddress(swap.Asset).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"redeemer":   common.HexToAddress(swap.Redeemer).Hex(),
			"timelock":   big.NewInt(swap.Timelock).String(),
			"amount":     amount.String(),
			"secretHash": hexutil.Encode(secretHash),
		},
	}, nil
}

// InitiateStarknet signs the source leg's Initiate hash with a STARK key
// and hands it to the Starknet relayer. Returns the init tx hash.
func (c *Client) InitiateStarknet(ctx context.Context, order *Order, signer StarkSigner) (string, error) {
	if chain.FamilyOf(order.SourceSwap.Chain) != chain.FamilyStarknet {
		return "", fmt.Errorf("%w: %s", ErrWrongSourceChain, order.SourceSwap.Chain)
	}

	hash, err := StarknetInitiateHash(order)
	if err != nil {
		return "", err
	}
	r, s, err := signer.SignHash(hash)
	if err != nil {
		return "", fmt.Errorf("failed to sign initiate: %w", err)
	}

	var txHash string
	req := initiateRequest{
		OrderID:   order.ID(),
		Signature: []string{hexutil.EncodeBig(r), hexutil.EncodeBig(s)},
		PerformOn: performOnSource,
	}
	if err := c.do(ctx, http.MethodPost, joinURL(c.cfg.StarknetRelayerURL, "initiate"), req, &txHash); err != nil {
		return "", err
	}

	c.log.Info("Initiated via Starknet relayer", "order_id", order.ID(), "tx", txHash)
	c.emit(Event{Type: EventSuccess, OrderID: order.ID(), Order: order, Action: ActionInit, TxHash: txHash})
	return txHash, nil
}

var u128Mask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// StarknetInitiateHash is the Pedersen hash the Starknet HTLC expects for a
// relayed initiate. u256 values are split into (low, high) felts.
func StarknetInitiateHash(order *Order) (*big.Int, error) {
	swap := order.SourceSwap

	redeemer, ok := new(big.Int).SetString(helpers.Strip0x(swap.Redeemer), 16)
	if !ok {
		return nil, fmt.Errorf("invalid redeemer %q", swap.Redeemer)
	}
	amount, ok := new(big.Int).SetString(swap.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", swap.Amount)
	}
	secretHash, err := helpers.HexToBytes(swap.SecretHash)
	if err != nil || len(secretHash) != 32 {
		return nil, fmt.Errorf("invalid secret hash %q", swap.SecretHash)
	}
	sh := new(big.Int).SetBytes(secretHash)

	return wallet.HashElements(
		shortString("Initiate"),
		redeemer,
		new(big.Int).And(amount, u128Mask),
		new(big.Int).Rsh(amount, 128),
		big.NewInt(swap.Timelock),
		new(big.Int).Rsh(sh, 128),
		new(big.Int).And(sh, u128Mask),
	), nil
}

// shortString encodes an ASCII string of at most 31 bytes as a felt.
func shortString(s string) *big.Int {
	return new(big.Int).SetBytes([]byte(s))
}

// redeem reveals the secret to the relayer of the destination chain.
func (c *Client) redeem(ctx context.Context, order *Order, secret []byte) (string, error) {
	relayer := c.cfg.EVMRelayerURL
	if chain.FamilyOf(order.DestinationSwap.Chain) == chain.FamilyStarknet {
		relayer = c.cfg.StarknetRelayerURL
	}

	var txHash string
	req := redeemRequest{
		OrderID:   order.ID(),
		Secret:    strings.TrimPrefix(helpers.BytesToHex(secret), "0x"),
		PerformOn: performOnDestination,
	}
	if err := c.do(ctx, http.MethodPost, joinURL(relayer, "redeem"), req, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}
