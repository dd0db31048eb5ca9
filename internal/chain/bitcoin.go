package chain

import (
	"github.com/btcsuite/btcd/chaincfg"
)

func init() {
	Register(&Params{
		ID:         "bitcoin_testnet",
		Name:       "Bitcoin Testnet",
		Family:     FamilyUTXO,
		Network:    Testnet,
		Native:     "BTC",
		Decimals:   8,
		ExplorerTx: "https://mempool.space/testnet4/tx/%s",
	})
}

// BitcoinParams maps a network to btcd chain parameters.
func BitcoinParams(network Network) *chaincfg.Params {
	if network == Mainnet {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}
