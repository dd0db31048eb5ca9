package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapbot/internal/apperr"
)

// starknetAddressBound is 2^251; every Starknet address is a felt below it.
var starknetAddressBound = new(big.Int).Lsh(big.NewInt(1), 251)

const evmAddressHexLen = 40

// AddressHint describes the accepted format for a family.
func AddressHint(f Family) string {
	switch f {
	case FamilyEVM:
		return "an EVM address (0x followed by 40 hex characters)"
	case FamilyUTXO:
		return "a Bitcoin address (bech32 tb1.../bc1... or base58)"
	case FamilyStarknet:
		return "a Starknet address (0x followed by up to 64 hex characters)"
	default:
		return "a valid address"
	}
}

// ValidateAddress checks addr against the format of family f. Addresses of
// the wrong family are rejected with a message naming the expected one.
func ValidateAddress(f Family, addr string, network Network) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return apperr.InvalidInputf("Please enter %s.", AddressHint(f))
	}

	var ok bool
	switch f {
	case FamilyEVM:
		ok = IsEVMAddress(addr)
	case FamilyUTXO:
		ok = IsBitcoinAddress(addr, network)
	case FamilyStarknet:
		ok = IsStarknetAddress(addr)
	default:
		return apperr.InvalidInputf("Unsupported chain family %q.", f)
	}
	if !ok {
		return apperr.InvalidInputf("That does not look like %s. Please check the destination chain and try again.", AddressHint(f))
	}
	return nil
}

// IsEVMAddress accepts 0x + 40 hex characters. Mixed-case input must carry
// a valid EIP-55 checksum.
func IsEVMAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	if !common.IsHexAddress(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(addr).Hex() == addr
}

// IsBitcoinAddress decodes addr for the network's Bitcoin parameters.
func IsBitcoinAddress(addr string, network Network) bool {
	if strings.HasPrefix(strings.ToLower(addr), "0x") {
		return false
	}
	params := BitcoinParams(network)
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return false
	}
	return decoded.IsForNet(params)
}

// IsStarknetAddress accepts 0x + 1..64 hex characters below 2^251. A
// 40 character body is the EVM address shape and is rejected.
func IsStarknetAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	body := addr[2:]
	if len(body) == 0 || len(body) > 64 || len(body) == evmAddressHexLen {
		return false
	}
	v, ok := new(big.Int).SetString(body, 16)
	if !ok {
		return false
	}
	return v.Cmp(starknetAddressBound) < 0
}

// NormalizeStarknetAddress pads a Starknet address to 64 hex characters.
func NormalizeStarknetAddress(addr string) (string, error) {
	if !IsStarknetAddress(addr) {
		return "", fmt.Errorf("invalid starknet address %q", addr)
	}
	v, _ := new(big.Int).SetString(addr[2:], 16)
	return fmt.Sprintf("0x%064x", v), nil
}
