package chain

func init() {
	// ==========================================================================
	// EVM testnets
	// ==========================================================================

	Register(&Params{
		ID:         "ethereum_sepolia",
		Name:       "Ethereum Sepolia",
		Family:     FamilyEVM,
		Network:    Testnet,
		ChainID:    11155111,
		Native:     "ETH",
		Decimals:   18,
		ExplorerTx: "https://sepolia.etherscan.io/tx/%s",
		Selectable: true,
	})

	Register(&Params{
		ID:         "arbitrum_sepolia",
		Name:       "Arbitrum Sepolia",
		Family:     FamilyEVM,
		Network:    Testnet,
		ChainID:    421614,
		Native:     "ETH",
		Decimals:   18,
		ExplorerTx: "https://sepolia.arbiscan.io/tx/%s",
		Selectable: true,
	})

	Register(&Params{
		ID:         "base_sepolia",
		Name:       "Base Sepolia",
		Family:     FamilyEVM,
		Network:    Testnet,
		ChainID:    84532,
		Native:     "ETH",
		Decimals:   18,
		ExplorerTx: "https://sepolia.basescan.org/tx/%s",
	})

	Register(&Params{
		ID:         "citrea_testnet",
		Name:       "Citrea Testnet",
		Family:     FamilyEVM,
		Network:    Testnet,
		ChainID:    5115,
		Native:     "cBTC",
		Decimals:   18,
		ExplorerTx: "https://explorer.testnet.citrea.xyz/tx/%s",
	})

	Register(&Params{
		ID:         "berachain_testnet",
		Name:       "Berachain Testnet",
		Family:     FamilyEVM,
		Network:    Testnet,
		ChainID:    80069,
		Native:     "BERA",
		Decimals:   18,
		ExplorerTx: "https://testnet.berascan.com/tx/%s",
	})

	Register(&Params{
		ID:       "hyperliquid_testnet",
		Name:     "Hyperliquid Testnet",
		Family:   FamilyEVM,
		Network:  Testnet,
		ChainID:  998,
		Native:   "HYPE",
		Decimals: 18,
	})
}
