package chain

func init() {
	Register(&Params{
		ID:         "starknet_sepolia",
		Name:       "Starknet Sepolia",
		Family:     FamilyStarknet,
		Network:    Testnet,
		Native:     "STRK",
		Decimals:   18,
		ExplorerTx: "https://sepolia.voyager.online/tx/%s",
	})
}
