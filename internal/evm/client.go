// Package evm reads balances from EVM chains over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrChainIDMismatch is returned when an RPC endpoint serves another chain.
var ErrChainIDMismatch = errors.New("rpc endpoint serves a different chain")

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}]`

var erc20 abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid ERC-20 ABI: %v", err))
	}
	erc20 = parsed
}

// Client is a read-only connection to one EVM chain.
type Client struct {
	client  *ethclient.Client
	chainID *big.Int
}

// Dial connects to rpcURL. When expectChainID is non-zero the endpoint's
// chain id must match it.
func Dial(ctx context.Context, rpcURL string, expectChainID uint64) (*Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if expectChainID != 0 && chainID.Cmp(new(big.Int).SetUint64(expectChainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("%w: got %s, want %d", ErrChainIDMismatch, chainID, expectChainID)
	}

	return &Client{client: client, chainID: chainID}, nil
}

// Close closes the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the chain ID reported by the endpoint.
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// NativeBalance returns the latest native balance of owner in wei.
func (c *Client) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	bal, err := c.client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// TokenBalance returns owner's ERC-20 balance of token in base units.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data, err := erc20.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}
	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call balanceOf: %w", err)
	}
	values, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack balanceOf: %w", err)
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}
	return bal, nil
}
