package chain

import (
	"errors"
	"testing"

	"github.com/klingon-exchange/swapbot/internal/apperr"
)

func TestChainsRegistered(t *testing.T) {
	expected := map[string]Family{
		"ethereum_sepolia":    FamilyEVM,
		"arbitrum_sepolia":    FamilyEVM,
		"base_sepolia":        FamilyEVM,
		"citrea_testnet":      FamilyEVM,
		"berachain_testnet":   FamilyEVM,
		"hyperliquid_testnet": FamilyEVM,
		"starknet_sepolia":    FamilyStarknet,
		"bitcoin_testnet":     FamilyUTXO,
	}

	for id, family := range expected {
		params, ok := Get(id)
		if !ok {
			t.Errorf("expected %s to be registered", id)
			continue
		}
		if params.Family != family {
			t.Errorf("%s Family = %s, want %s", id, params.Family, family)
		}
	}
}

func TestSelectableNetworks(t *testing.T) {
	selectable := Selectable()
	if len(selectable) != 2 {
		t.Fatalf("Selectable() returned %d chains, want 2", len(selectable))
	}
	if selectable[0].ID != "arbitrum_sepolia" || selectable[1].ID != "ethereum_sepolia" {
		t.Errorf("Selectable() = %s, %s", selectable[0].ID, selectable[1].ID)
	}
}

func TestTxURL(t *testing.T) {
	p, _ := Get("ethereum_sepolia")
	if got := p.TxURL("0xabc"); got != "https://sepolia.etherscan.io/tx/0xabc" {
		t.Errorf("TxURL() = %s", got)
	}

	hl, _ := Get("hyperliquid_testnet")
	if got := hl.TxURL("0xabc"); got != "https://sepolia.etherscan.io/tx/0xabc" {
		t.Errorf("TxURL() without explorer = %s", got)
	}
}

func TestPackageTxURL(t *testing.T) {
	if got := TxURL("arbitrum_sepolia", "0x1"); got != "https://sepolia.arbiscan.io/tx/0x1" {
		t.Errorf("TxURL(arbitrum_sepolia) = %s", got)
	}
	if got := TxURL("nowhere", "0x1"); got != "https://sepolia.etherscan.io/tx/0x1" {
		t.Errorf("TxURL(unknown) = %s", got)
	}
}

func TestFindAsset(t *testing.T) {
	a, ok := FindAsset("arbitrum_sepolia", "0x795dcb58d1cd4789169d5f938ea05e17eceb68ca")
	if !ok || a.Symbol != "WBTC" {
		t.Fatalf("FindAsset() = %v, %v", a, ok)
	}
	if _, ok := FindAsset("bitcoin_testnet", "0x795dcb58d1cd4789169d5f938ea05e17eceb68ca"); ok {
		t.Error("FindAsset() matched the wrong chain")
	}
}

func TestGetAssetCaseInsensitiveSymbol(t *testing.T) {
	a, ok := GetAsset("bitcoin_testnet:btc")
	if !ok {
		t.Fatal("GetAsset(bitcoin_testnet:btc) not found")
	}
	if a.Decimals != 8 {
		t.Errorf("Decimals = %d, want 8", a.Decimals)
	}
	if a.Family() != FamilyUTXO {
		t.Errorf("Family() = %s, want utxo", a.Family())
	}
	if _, ok := GetAsset("nonsense"); ok {
		t.Error("GetAsset(nonsense) found, want missing")
	}
}

func TestDestinationAssetsExcludeSourceChain(t *testing.T) {
	from, _ := GetAsset("ethereum_sepolia:ETH")
	for _, a := range DestinationAssets(from) {
		if a.Chain == from.Chain {
			t.Errorf("DestinationAssets contains %s on the source chain", a.ID())
		}
	}
}

func TestOrderPair(t *testing.T) {
	from := &Asset{Chain: "arbitrum_sepolia", AtomicSwapAddress: "0xaaa"}
	to := &Asset{Chain: "bitcoin_testnet", AtomicSwapAddress: "primary"}
	want := "arbitrum_sepolia:0xaaa::bitcoin_testnet:primary"
	if got := OrderPair(from, to); got != want {
		t.Errorf("OrderPair() = %s, want %s", got, want)
	}
}

func TestApplyOverrides(t *testing.T) {
	RegisterAsset(&Asset{Chain: "test_chain", Symbol: "TST", AtomicSwapAddress: "0x01"})

	unknown := ApplyOverrides(map[string]AssetOverride{
		"test_chain:tst": {AtomicSwapAddress: "0x02", MinAmount: "5"},
		"missing:XYZ":    {AtomicSwapAddress: "0x03"},
	})

	a, _ := GetAsset("test_chain:TST")
	if a.AtomicSwapAddress != "0x02" {
		t.Errorf("AtomicSwapAddress = %s, want 0x02", a.AtomicSwapAddress)
	}
	if a.MinAmount != "5" {
		t.Errorf("MinAmount = %s, want 5", a.MinAmount)
	}
	if len(unknown) != 1 || unknown[0] != "missing:XYZ" {
		t.Errorf("unknown = %v, want [missing:XYZ]", unknown)
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		family  Family
		addr    string
		network Network
		valid   bool
	}{
		{"evm lowercase", FamilyEVM, "0x742d35cc6634c0532925a3b844bc454e4438f44e", Testnet, true},
		{"evm checksummed", FamilyEVM, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", Testnet, true},
		{"evm bad checksum", FamilyEVM, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD", Testnet, false},
		{"evm no prefix", FamilyEVM, "742d35cc6634c0532925a3b844bc454e4438f44e", Testnet, false},
		{"evm too short", FamilyEVM, "0x742d35cc", Testnet, false},
		{"evm given bitcoin", FamilyEVM, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Testnet, false},
		{"btc testnet bech32", FamilyUTXO, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Testnet, true},
		{"btc mainnet on testnet", FamilyUTXO, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Testnet, false},
		{"btc mainnet bech32", FamilyUTXO, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", Mainnet, true},
		{"btc given evm", FamilyUTXO, "0x742d35cc6634c0532925a3b844bc454e4438f44e", Testnet, false},
		{"btc garbage", FamilyUTXO, "not-an-address", Testnet, false},
		{"starknet full", FamilyStarknet, "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", Testnet, true},
		{"starknet short", FamilyStarknet, "0x1", Testnet, true},
		{"starknet above bound", FamilyStarknet, "0x0800000000000000000000000000000000000000000000000000000000000000", Testnet, false},
		{"starknet too long", FamilyStarknet, "0x00049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7", Testnet, false},
		{"starknet given bitcoin", FamilyStarknet, "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Testnet, false},
		{"starknet given evm", FamilyStarknet, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", Testnet, false},
		{"empty", FamilyEVM, "", Testnet, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.family, tt.addr, tt.network)
			if tt.valid && err != nil {
				t.Fatalf("ValidateAddress() error = %v, want nil", err)
			}
			if !tt.valid {
				if err == nil {
					t.Fatal("ValidateAddress() error = nil, want error")
				}
				if !errors.Is(err, apperr.ErrInvalidInput) {
					t.Errorf("ValidateAddress() error = %v, want InvalidInput", err)
				}
			}
		})
	}
}

func TestNormalizeStarknetAddress(t *testing.T) {
	got, err := NormalizeStarknetAddress("0xabc")
	if err != nil {
		t.Fatalf("NormalizeStarknetAddress() error = %v", err)
	}
	want := "0x0000000000000000000000000000000000000000000000000000000000000abc"
	if got != want {
		t.Errorf("NormalizeStarknetAddress() = %s, want %s", got, want)
	}
}
