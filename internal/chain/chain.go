// Package chain defines the chain families, chains and swappable assets the
// bot knows about. Chain and asset parameters are registered at init time;
// asset contract addresses can be overridden from the node config.
package chain

import (
	"fmt"
	"sort"
	"sync"
)

// Network represents mainnet or testnet.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

// Family is the key/address model shared by a group of chains.
type Family string

const (
	FamilyEVM      Family = "evm"      // account-based, 0x addresses
	FamilyUTXO     Family = "utxo"     // Bitcoin-like
	FamilyStarknet Family = "starknet" // contract accounts derived from a class hash
)

// Families lists every supported family in display order.
var Families = []Family{FamilyEVM, FamilyUTXO, FamilyStarknet}

// DisplayName returns a human readable family name.
func (f Family) DisplayName() string {
	switch f {
	case FamilyEVM:
		return "Ethereum (EVM)"
	case FamilyUTXO:
		return "Bitcoin"
	case FamilyStarknet:
		return "Starknet"
	default:
		return string(f)
	}
}

// Valid reports whether f is a known family.
func (f Family) Valid() bool {
	switch f {
	case FamilyEVM, FamilyUTXO, FamilyStarknet:
		return true
	}
	return false
}

// Params describes one chain.
type Params struct {
	ID       string // engine chain identifier, e.g. "arbitrum_sepolia"
	Name     string
	Family   Family
	Network  Network
	ChainID  uint64 // EVM chain ID, zero elsewhere
	Native   string // native token symbol
	Decimals uint8  // native token decimals

	// ExplorerTx is a printf pattern for transaction links.
	ExplorerTx string

	// Selectable chains are offered in the network menu.
	Selectable bool
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Params)
)

// Register adds chain params to the registry.
func Register(params *Params) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[params.ID] = params
}

// Get returns chain params by engine chain id.
func Get(id string) (*Params, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[id]
	return p, ok
}

// FamilyOf returns the family of a chain id, or "" when unknown.
func FamilyOf(id string) Family {
	if p, ok := Get(id); ok {
		return p.Family
	}
	return ""
}

// List returns all registered chains sorted by id.
func List() []*Params {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Params, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListByFamily returns all chains of one family.
func ListByFamily(f Family) []*Params {
	var out []*Params
	for _, p := range List() {
		if p.Family == f {
			out = append(out, p)
		}
	}
	return out
}

// Selectable returns the chains offered as swap networks.
func Selectable() []*Params {
	var out []*Params
	for _, p := range List() {
		if p.Selectable {
			out = append(out, p)
		}
	}
	return out
}

// TxURL returns an explorer link for a transaction on this chain.
func (p *Params) TxURL(txHash string) string {
	pattern := p.ExplorerTx
	if pattern == "" {
		pattern = defaultExplorerTx
	}
	return fmt.Sprintf(pattern, txHash)
}

const defaultExplorerTx = "https://sepolia.etherscan.io/tx/%s"

// TxURL returns an explorer link for a transaction on any chain id,
// using the default explorer for unknown chains.
func TxURL(chainID, txHash string) string {
	if p, ok := Get(chainID); ok {
		return p.TxURL(txHash)
	}
	return fmt.Sprintf(defaultExplorerTx, txHash)
}
