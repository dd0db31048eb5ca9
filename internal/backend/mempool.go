package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MempoolBackend implements Backend using the mempool.space API.
// Compatible with mempool.space and self-hosted instances.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string, timeout time.Duration) *MempoolBackend {
	return &MempoolBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// Close releases idle connections.
func (m *MempoolBackend) Close() error {
	m.httpClient.CloseIdleConnections()
	return nil
}

type txoStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int64  `json:"tx_count"`
}

// GetAddressInfo returns address balance and tx count.
func (m *MempoolBackend) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var result struct {
		Address      string   `json:"address"`
		ChainStats   txoStats `json:"chain_stats"`
		MempoolStats txoStats `json:"mempool_stats"`
	}

	if err := m.get(ctx, "/address/"+address, &result); err != nil {
		return nil, err
	}

	return &AddressInfo{
		Address:        result.Address,
		TxCount:        result.ChainStats.TxCount + result.MempoolStats.TxCount,
		FundedSum:      result.ChainStats.FundedTxoSum,
		SpentSum:       result.ChainStats.SpentTxoSum,
		Balance:        result.ChainStats.FundedTxoSum - result.ChainStats.SpentTxoSum,
		MempoolBalance: int64(result.MempoolStats.FundedTxoSum) - int64(result.MempoolStats.SpentTxoSum),
	}, nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := m.get(ctx, "/blocks/tip/height", &height); err != nil {
		return 0, err
	}
	return height, nil
}

// get performs a GET request and decodes the JSON response.
func (m *MempoolBackend) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	// Avoid stale CDN responses.
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return ErrAddressNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// EsploraBackend implements Backend using the Esplora API
// (blockstream.info). The address endpoints match mempool.space.
type EsploraBackend struct {
	*MempoolBackend
}

// NewEsploraBackend creates a new Esplora backend.
func NewEsploraBackend(baseURL string, timeout time.Duration) *EsploraBackend {
	return &EsploraBackend{MempoolBackend: NewMempoolBackend(baseURL, timeout)}
}

// Type returns TypeEsplora.
func (e *EsploraBackend) Type() Type {
	return TypeEsplora
}

var (
	_ Backend = (*MempoolBackend)(nil)
	_ Backend = (*EsploraBackend)(nil)
)
