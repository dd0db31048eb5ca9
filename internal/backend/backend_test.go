package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

func newExplorer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/address/tb1qfunded", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"address": "tb1qfunded",
			"chain_stats": {"funded_txo_sum": 150000, "spent_txo_sum": 50000, "tx_count": 3},
			"mempool_stats": {"funded_txo_sum": 0, "spent_txo_sum": 20000, "tx_count": 1}
		}`))
	})
	mux.HandleFunc("/api/address/tb1qlimited", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("/api/address/tb1qbroken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	mux.HandleFunc("/api/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`84210`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetAddressInfo(t *testing.T) {
	srv := newExplorer(t)
	b := NewMempoolBackend(srv.URL+"/api/", time.Second)
	defer b.Close()

	info, err := b.GetAddressInfo(context.Background(), "tb1qfunded")
	if err != nil {
		t.Fatalf("GetAddressInfo() error = %v", err)
	}
	if info.Balance != 100000 {
		t.Errorf("Balance = %d, want 100000", info.Balance)
	}
	if info.MempoolBalance != -20000 {
		t.Errorf("MempoolBalance = %d, want -20000", info.MempoolBalance)
	}
	if info.TxCount != 4 {
		t.Errorf("TxCount = %d, want 4", info.TxCount)
	}
}

func TestGetAddressInfoErrors(t *testing.T) {
	srv := newExplorer(t)
	b := NewMempoolBackend(srv.URL+"/api", time.Second)

	tests := []struct {
		address string
		want    error
	}{
		{"tb1qmissing", ErrAddressNotFound},
		{"tb1qlimited", ErrRateLimited},
		{"tb1qbroken", nil},
	}
	for _, tt := range tests {
		_, err := b.GetAddressInfo(context.Background(), tt.address)
		if err == nil {
			t.Errorf("GetAddressInfo(%s) expected error", tt.address)
			continue
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("GetAddressInfo(%s) error = %v, want %v", tt.address, err, tt.want)
		}
	}
}

func TestGetBlockHeight(t *testing.T) {
	srv := newExplorer(t)
	b := NewEsploraBackend(srv.URL+"/api", time.Second)

	height, err := b.GetBlockHeight(context.Background())
	if err != nil {
		t.Fatalf("GetBlockHeight() error = %v", err)
	}
	if height != 84210 {
		t.Errorf("height = %d, want 84210", height)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		want    Type
		wantErr bool
	}{
		{"default type", &Config{URL: "https://mempool.space/api"}, TypeMempool, false},
		{"esplora", &Config{Type: TypeEsplora, URL: "https://blockstream.info/api"}, TypeEsplora, false},
		{"electrum", &Config{Type: "electrum", URL: "ssl://electrum.example:50002"}, "", true},
		{"no url", &Config{Type: TypeMempool}, "", true},
		{"nil", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && b.Type() != tt.want {
				t.Errorf("Type() = %s, want %s", b.Type(), tt.want)
			}
		})
	}
}

func TestDefaultURL(t *testing.T) {
	if got := DefaultURL(chain.Testnet); got != "https://mempool.space/testnet4/api" {
		t.Errorf("DefaultURL(testnet) = %s", got)
	}
	if got := DefaultURL(chain.Mainnet); got != "https://mempool.space/api" {
		t.Errorf("DefaultURL(mainnet) = %s", got)
	}
}
