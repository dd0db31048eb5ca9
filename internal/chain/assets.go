package chain

import (
	"fmt"
	"sort"
	"strings"
)

// Asset is one swappable asset on one chain.
type Asset struct {
	Chain    string // chain id
	Symbol   string
	Name     string
	Decimals uint8

	// AtomicSwapAddress is the engine's swap contract for this asset.
	// Bitcoin assets use the literal "primary".
	AtomicSwapAddress string
	// TokenAddress is the ERC-20/Starknet token, empty for native assets.
	TokenAddress string

	// MinAmount and MaxAmount are the fallback amount band in smallest
	// units, used when the engine does not advertise one for a pair.
	MinAmount string
	MaxAmount string
}

// ID returns the "chain:SYMBOL" identifier used in menus.
func (a *Asset) ID() string {
	return a.Chain + ":" + a.Symbol
}

// Family returns the family of the asset's chain.
func (a *Asset) Family() Family {
	return FamilyOf(a.Chain)
}

// Label is the menu text for an asset.
func (a *Asset) Label() string {
	name := a.Chain
	if p, ok := Get(a.Chain); ok {
		name = p.Name
	}
	return fmt.Sprintf("%s on %s", a.Symbol, name)
}

// OrderPair renders the engine order pair for a swap between two assets.
func OrderPair(from, to *Asset) string {
	return from.Chain + ":" + from.AtomicSwapAddress + "::" + to.Chain + ":" + to.AtomicSwapAddress
}

var assets = make(map[string]*Asset)

// RegisterAsset adds an asset to the registry.
func RegisterAsset(a *Asset) {
	registryMu.Lock()
	defer registryMu.Unlock()
	assets[a.ID()] = a
}

// GetAsset looks up an asset by "chain:SYMBOL" (symbol is case-insensitive).
func GetAsset(id string) (*Asset, bool) {
	chainID, symbol, ok := strings.Cut(id, ":")
	if !ok {
		return nil, false
	}
	registryMu.RLock()
	defer registryMu.RUnlock()
	a, ok := assets[chainID+":"+strings.ToUpper(symbol)]
	return a, ok
}

// FindAsset looks up an asset by chain and swap contract address.
func FindAsset(chainID, atomicSwapAddress string) (*Asset, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, a := range assets {
		if a.Chain == chainID && strings.EqualFold(a.AtomicSwapAddress, atomicSwapAddress) {
			return a, true
		}
	}
	return nil, false
}

// Assets returns every registered asset sorted by id.
func Assets() []*Asset {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Asset, 0, len(assets))
	for _, a := range assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// DestinationAssets returns the assets that can be swapped to from an
// asset: everything not on the source chain.
func DestinationAssets(from *Asset) []*Asset {
	var out []*Asset
	for _, a := range Assets() {
		if a.Chain != from.Chain {
			out = append(out, a)
		}
	}
	return out
}

// AssetOverride replaces contract addresses of a registered asset.
type AssetOverride struct {
	AtomicSwapAddress string `yaml:"atomic_swap_address"`
	TokenAddress      string `yaml:"token_address,omitempty"`
	MinAmount         string `yaml:"min_amount,omitempty"`
	MaxAmount         string `yaml:"max_amount,omitempty"`
}

// ApplyOverrides patches registered assets. Unknown ids are returned so
// the caller can warn about them.
func ApplyOverrides(overrides map[string]AssetOverride) []string {
	registryMu.Lock()
	defer registryMu.Unlock()

	var unknown []string
	for id, o := range overrides {
		chainID, symbol, _ := strings.Cut(id, ":")
		a, ok := assets[chainID+":"+strings.ToUpper(symbol)]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if o.AtomicSwapAddress != "" {
			a.AtomicSwapAddress = o.AtomicSwapAddress
		}
		if o.TokenAddress != "" {
			a.TokenAddress = o.TokenAddress
		}
		if o.MinAmount != "" {
			a.MinAmount = o.MinAmount
		}
		if o.MaxAmount != "" {
			a.MaxAmount = o.MaxAmount
		}
	}
	sort.Strings(unknown)
	return unknown
}

func init() {
	// ==========================================================================
	// Default testnet assets. Contract addresses track the engine's testnet
	// deployment and can be overridden under `assets:` in config.yaml.
	// ==========================================================================

	RegisterAsset(&Asset{
		Chain:             "bitcoin_testnet",
		Symbol:            "BTC",
		Name:              "Bitcoin",
		Decimals:          8,
		AtomicSwapAddress: "primary",
		MinAmount:         "50000",
		MaxAmount:         "10000000",
	})
	RegisterAsset(&Asset{
		Chain:             "ethereum_sepolia",
		Symbol:            "ETH",
		Name:              "Ether",
		Decimals:          18,
		AtomicSwapAddress: "0x1cd0bBd55fD66B4C5F7dfE434eFD009C09e628d1",
		MinAmount:         "500000000000000",
		MaxAmount:         "100000000000000000",
	})
	RegisterAsset(&Asset{
		Chain:             "ethereum_sepolia",
		Symbol:            "WBTC",
		Name:              "Wrapped Bitcoin",
		Decimals:          8,
		AtomicSwapAddress: "0xd1E0Ba2b165726b3a6051b765d4564d030FDcf50",
		TokenAddress:      "0x3D1e56247033FE77e9C4A2D3E4D1DA4BDd2A7bBd",
		MinAmount:         "50000",
		MaxAmount:         "10000000",
	})
	RegisterAsset(&Asset{
		Chain:             "arbitrum_sepolia",
		Symbol:            "WBTC",
		Name:              "Wrapped Bitcoin",
		Decimals:          8,
		AtomicSwapAddress: "0x795Dcb58d1cd4789169D5F938Ea05E17ecEB68cA",
		TokenAddress:      "0xD8a6E3FCA403d79b6AD6216b60527F51cc967D39",
		MinAmount:         "50000",
		MaxAmount:         "10000000",
	})
	RegisterAsset(&Asset{
		Chain:             "arbitrum_sepolia",
		Symbol:            "ETH",
		Name:              "Ether",
		Decimals:          18,
		AtomicSwapAddress: "0x17A4A8e2bA3d7bDbe8E96D5cBB4fa4E1A8fC1C25",
		MinAmount:         "500000000000000",
		MaxAmount:         "100000000000000000",
	})
	RegisterAsset(&Asset{
		Chain:             "base_sepolia",
		Symbol:            "WBTC",
		Name:              "Wrapped Bitcoin",
		Decimals:          8,
		AtomicSwapAddress: "0xd1E0Ba2b165726b3a6051b765d4564d030FDcf50",
		TokenAddress:      "0x13DCec0762EcC5E666c207ab44Dc768e5e33070F",
		MinAmount:         "50000",
		MaxAmount:         "10000000",
	})
	RegisterAsset(&Asset{
		Chain:             "starknet_sepolia",
		Symbol:            "WBTC",
		Name:              "Wrapped Bitcoin",
		Decimals:          8,
		AtomicSwapAddress: "0x06579d255314109429a4477d89629bc2b94f529ae01979c2f8014f9246482603",
		TokenAddress:      "0x0496bef3ed20371382fbe0ca6a5a64252c5c848f9f1f0cccf8110fc4def912d5",
		MinAmount:         "50000",
		MaxAmount:         "10000000",
	})
}
