package evm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/pkg/helpers"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Balance is one asset balance in display units.
type Balance struct {
	Chain  string
	Symbol string
	Amount string
}

// Balances reads wallet balances across the configured EVM chains. One
// client per chain is dialed on first use and kept.
type Balances struct {
	urls    map[string]string
	timeout time.Duration
	log     *logging.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewBalances creates a balance reader over per-chain RPC URLs.
func NewBalances(urls map[string]string, timeout time.Duration) *Balances {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Balances{
		urls:    urls,
		timeout: timeout,
		log:     logging.GetDefault().Component("evm"),
		clients: make(map[string]*Client),
	}
}

// Chains returns the chain ids with a configured RPC URL, in registry order.
func (b *Balances) Chains() []string {
	var out []string
	for _, p := range chain.ListByFamily(chain.FamilyEVM) {
		if b.urls[p.ID] != "" {
			out = append(out, p.ID)
		}
	}
	return out
}

func (b *Balances) client(ctx context.Context, chainID string) (*Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[chainID]; ok {
		return c, nil
	}
	url := b.urls[chainID]
	if url == "" {
		return nil, fmt.Errorf("no RPC configured for %s", chainID)
	}
	var expect uint64
	if p, ok := chain.Get(chainID); ok {
		expect = p.ChainID
	}
	c, err := Dial(ctx, url, expect)
	if err != nil {
		return nil, err
	}
	b.clients[chainID] = c
	return c, nil
}

// ForChain returns the native balance and the balance of every registered
// token asset of address on one chain.
func (b *Balances) ForChain(ctx context.Context, chainID, address string) ([]Balance, error) {
	params, ok := chain.Get(chainID)
	if !ok || params.Family != chain.FamilyEVM {
		return nil, fmt.Errorf("%s is not an EVM chain", chainID)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid EVM address %q", address)
	}
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	c, err := b.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	owner := common.HexToAddress(address)

	native, err := c.NativeBalance(ctx, owner)
	if err != nil {
		return nil, err
	}
	out := []Balance{{Chain: chainID, Symbol: params.Native, Amount: helpers.FormatUnits(native, params.Decimals)}}

	for _, a := range chain.Assets() {
		if a.Chain != chainID || a.TokenAddress == "" || !common.IsHexAddress(a.TokenAddress) {
			continue
		}
		bal, err := c.TokenBalance(ctx, common.HexToAddress(a.TokenAddress), owner)
		if err != nil {
			b.log.Debug("Token balance unavailable", "chain", chainID, "token", a.Symbol, "error", err)
			continue
		}
		out = append(out, Balance{Chain: chainID, Symbol: a.Symbol, Amount: helpers.FormatUnits(bal, a.Decimals)})
	}
	return out, nil
}

// Close closes every dialed client.
func (b *Balances) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, c := range b.clients {
		c.Close()
		delete(b.clients, id)
	}
}
