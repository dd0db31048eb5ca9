// Package backend reads Bitcoin address state from block explorer APIs.
// It never handles keys.
package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

// Common errors
var (
	ErrAddressNotFound    = errors.New("address not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// AddressInfo contains address balance and transaction counts.
type AddressInfo struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	FundedSum      uint64 `json:"funded_txo_sum"`
	SpentSum       uint64 `json:"spent_txo_sum"`
	Balance        uint64 `json:"balance"`         // confirmed, in satoshis
	MempoolBalance int64  `json:"mempool_balance"` // unconfirmed delta
}

// Backend is a read-only source of Bitcoin address data.
type Backend interface {
	Type() Type
	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)
	GetBlockHeight(ctx context.Context) (int64, error)
	Close() error
}

// Config contains backend configuration.
type Config struct {
	Type Type   `yaml:"type"`
	URL  string `yaml:"url"`
	// Timeout bounds each request. Zero uses 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultURL returns the public mempool.space endpoint for network.
func DefaultURL(network chain.Network) string {
	if network == chain.Testnet {
		return "https://mempool.space/testnet4/api"
	}
	return "https://mempool.space/api"
}

// New creates the backend described by cfg.
func New(cfg *Config) (Backend, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, fmt.Errorf("backend url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	switch cfg.Type {
	case TypeMempool, "":
		return NewMempoolBackend(cfg.URL, timeout), nil
	case TypeEsplora:
		return NewEsploraBackend(cfg.URL, timeout), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}
