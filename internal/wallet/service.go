package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/klingon-exchange/swapbot/internal/apperr"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

// Bundle is the result of creating wallets: one record per family plus the
// mnemonic shared by the EVM and Bitcoin records, if any.
type Bundle struct {
	Records  []*Record
	Mnemonic string
}

// ImportOptions carries family-specific import data.
type ImportOptions struct {
	// Address is required for Starknet private-key imports.
	Address string
}

// Service is the wallet custody service.
type Service struct {
	network       chain.Network
	classHash     string
	mnemonicWords int
	deployments   DeploymentChecker
	log           *logging.Logger
}

// ServiceConfig holds configuration for the custody service.
type ServiceConfig struct {
	Network           chain.Network
	StarknetClassHash string
	// MnemonicWords is 12 or 24.
	MnemonicWords int
	// Deployments answers Starknet deployment checks; nil skips them.
	Deployments DeploymentChecker
}

// NewService creates a new custody service.
func NewService(cfg *ServiceConfig) *Service {
	if cfg == nil {
		cfg = &ServiceConfig{}
	}

	network := cfg.Network
	if network == "" {
		network = chain.Testnet
	}
	classHash := cfg.StarknetClassHash
	if classHash == "" {
		classHash = DefaultStarknetAccountClassHash
	}
	words := cfg.MnemonicWords
	if words != MnemonicWords24 {
		words = MnemonicWords12
	}

	return &Service{
		network:       network,
		classHash:     classHash,
		mnemonicWords: words,
		deployments:   cfg.Deployments,
		log:           logging.GetDefault().Component("wallet"),
	}
}

// Network returns the network wallets are created for.
func (s *Service) Network() chain.Network {
	return s.network
}

// Create generates fresh wallets for the requested families. EVM and
// Bitcoin keys come from one shared mnemonic; a Starknet key is drawn
// independently since its address is derived from the account class.
func (s *Service) Create(families []chain.Family) (*Bundle, error) {
	if len(families) == 0 {
		families = chain.Families
	}

	bundle := &Bundle{}
	needsMnemonic := false
	for _, f := range families {
		if !f.Valid() {
			return nil, apperr.Wrap(apperr.KindInvalidInput, "Unsupported chain family.", fmt.Errorf("%w: %s", ErrUnsupportedFamily, f))
		}
		if f == chain.FamilyEVM || f == chain.FamilyUTXO {
			needsMnemonic = true
		}
	}

	if needsMnemonic {
		mnemonic, err := GenerateMnemonic(s.mnemonicWords)
		if err != nil {
			return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
		}
		bundle.Mnemonic = mnemonic
	}

	for _, f := range families {
		var (
			acct     Account
			mnemonic string
			err      error
		)
		switch f {
		case chain.FamilyEVM:
			acct, err = EVMAccountFromMnemonic(bundle.Mnemonic)
			mnemonic = bundle.Mnemonic
		case chain.FamilyUTXO:
			acct, err = BitcoinAccountFromMnemonic(bundle.Mnemonic, s.network)
			mnemonic = bundle.Mnemonic
		case chain.FamilyStarknet:
			acct, err = CreateStarknetAccount(s.classHash)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create %s wallet: %w", f, err)
		}

		rec := recordFromAccount(acct, mnemonic)
		if f == chain.FamilyStarknet {
			deployed := false
			rec.ContractDeployed = &deployed
		}
		bundle.Records = append(bundle.Records, rec)
		s.log.Info("Created wallet", "family", f, "address", rec.Address)
	}

	return bundle, nil
}

// ImportFromPrivateKey imports one wallet from a hex secret. Starknet
// imports need opts.Address and are annotated with a deployment check.
func (s *Service) ImportFromPrivateKey(ctx context.Context, secret string, family chain.Family, opts *ImportOptions) (*Record, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}

	var (
		acct Account
		err  error
	)
	switch family {
	case chain.FamilyEVM:
		acct, err = EVMAccountFromHex(secret)
	case chain.FamilyUTXO:
		acct, err = BitcoinAccountFromSecret(secret, s.network)
	case chain.FamilyStarknet:
		acct, err = StarknetAccountFromHex(secret, opts.Address)
	default:
		return nil, apperr.Wrap(apperr.KindInvalidInput, "Unsupported chain family.", ErrUnsupportedFamily)
	}
	if err != nil {
		return nil, importError(family, err)
	}

	rec := recordFromAccount(acct, "")
	if family == chain.FamilyStarknet {
		deployed := s.CheckDeployed(ctx, rec.Address)
		rec.ContractDeployed = &deployed
	}

	s.log.Info("Imported wallet from private key", "family", family, "address", rec.Address)
	return rec, nil
}

// ImportFromMnemonic derives one wallet from a 12 or 24 word phrase.
// Starknet accounts cannot be imported this way.
func (s *Service) ImportFromMnemonic(phrase string, family chain.Family) (*Record, error) {
	if family == chain.FamilyStarknet {
		return nil, apperr.Wrap(apperr.KindInvalidInput,
			"Mnemonic import is not supported for Starknet. Import the private key and account address instead.",
			ErrMnemonicUnsupported)
	}

	phrase = NormalizeMnemonic(phrase)
	if !ValidateMnemonic(phrase) {
		return nil, apperr.Wrap(apperr.KindInvalidInput,
			fmt.Sprintf("Invalid mnemonic: expected %d or %d valid words, got %d.", MnemonicWords12, MnemonicWords24, len(strings.Fields(phrase))),
			ErrInvalidMnemonicFormat)
	}

	var (
		acct Account
		err  error
	)
	switch family {
	case chain.FamilyEVM:
		acct, err = EVMAccountFromMnemonic(phrase)
	case chain.FamilyUTXO:
		acct, err = BitcoinAccountFromMnemonic(phrase, s.network)
	default:
		return nil, apperr.Wrap(apperr.KindInvalidInput, "Unsupported chain family.", ErrUnsupportedFamily)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to derive %s wallet: %w", family, err)
	}

	rec := recordFromAccount(acct, phrase)
	s.log.Info("Imported wallet from mnemonic", "family", family, "address", rec.Address)
	return rec, nil
}

// CheckDeployed reports whether a Starknet account contract exists. Lookup
// failures are logged and reported as not deployed: an undeployed account
// can still receive funds.
func (s *Service) CheckDeployed(ctx context.Context, address string) bool {
	if s.deployments == nil {
		return false
	}
	deployed, err := s.deployments.IsDeployed(ctx, address)
	if err != nil {
		s.log.Warn("Starknet deployment check failed", "address", address, "error", err)
		return false
	}
	if !deployed {
		s.log.Info("No contract deployed at Starknet address yet", "address", address)
	}
	return deployed
}

// Account rebuilds the signing account for a session record.
func (s *Service) Account(rec *Record) (Account, error) {
	if rec == nil || rec.PrivateKey == "" {
		return nil, apperr.Wrap(apperr.KindAuthentication, "Wallet is locked. Please log in again.", fmt.Errorf("no private key in session"))
	}
	switch rec.Family {
	case chain.FamilyEVM:
		return EVMAccountFromHex(rec.PrivateKey)
	case chain.FamilyUTXO:
		return BitcoinAccountFromSecret(rec.PrivateKey, s.network)
	case chain.FamilyStarknet:
		return StarknetAccountFromHex(rec.PrivateKey, rec.Address)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFamily, rec.Family)
	}
}

func importError(family chain.Family, err error) error {
	switch {
	case errors.Is(err, ErrAddressRequired):
		return apperr.Wrap(apperr.KindInvalidInput, "A Starknet import needs the account address (0x followed by up to 64 hex characters).", err)
	default:
		hint := "a 64 character hex private key"
		switch family {
		case chain.FamilyUTXO:
			hint = "a 64 character hex private key or a WIF string"
		case chain.FamilyStarknet:
			hint = "a hex STARK private key"
		}
		return apperr.Wrap(apperr.KindInvalidInput, fmt.Sprintf("Invalid private key: expected %s.", hint), err)
	}
}
