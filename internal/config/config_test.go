package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NetworkType != chain.Testnet {
		t.Errorf("NetworkType = %s, want testnet", cfg.NetworkType)
	}
	if cfg.Engine.Network != "arbitrum_sepolia" {
		t.Errorf("Engine.Network = %s, want arbitrum_sepolia", cfg.Engine.Network)
	}
	if cfg.Engine.RequestTimeout != 30*time.Second {
		t.Errorf("Engine.RequestTimeout = %v, want 30s", cfg.Engine.RequestTimeout)
	}
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("Engine.RetryAttempts = %d, want 3", cfg.Engine.RetryAttempts)
	}
	if cfg.Chains.RPCTimeout != 10*time.Second {
		t.Errorf("Chains.RPCTimeout = %v, want 10s", cfg.Chains.RPCTimeout)
	}
	if cfg.Session.TurnTimeout != 90*time.Second {
		t.Errorf("Session.TurnTimeout = %v, want 90s", cfg.Session.TurnTimeout)
	}
	if cfg.RPC.Enabled {
		t.Error("RPC should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("Storage.DataDir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Swap Bot Configuration") {
		t.Error("config file missing header")
	}

	info, err := os.Stat(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Engine.Network = "ethereum_sepolia"
	cfg.Engine.PollInterval = 3 * time.Second
	cfg.Matrix.AllowedRooms = []string{"!room:example.org"}
	cfg.Assets = map[string]chain.AssetOverride{
		"ethereum_sepolia:WBTC": {AtomicSwapAddress: "0x1111111111111111111111111111111111111111"},
	}
	if err := cfg.Save(ConfigPath(dir)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %s, want debug", loaded.Logging.Level)
	}
	if loaded.Engine.Network != "ethereum_sepolia" {
		t.Errorf("Engine.Network = %s, want ethereum_sepolia", loaded.Engine.Network)
	}
	if loaded.Engine.PollInterval != 3*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 3s", loaded.Engine.PollInterval)
	}
	if len(loaded.Matrix.AllowedRooms) != 1 {
		t.Errorf("AllowedRooms = %v", loaded.Matrix.AllowedRooms)
	}
	if o, ok := loaded.Assets["ethereum_sepolia:WBTC"]; !ok || o.AtomicSwapAddress == "" {
		t.Errorf("asset override not loaded: %+v", loaded.Assets)
	}
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	content := "logging:\n  level: warn\n"
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %s, want warn", cfg.Logging.Level)
	}
	if cfg.Engine.RetryAttempts != 3 {
		t.Errorf("Engine.RetryAttempts = %d, want default 3", cfg.Engine.RetryAttempts)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvMatrixToken, "syt_secret")
	t.Setenv(EnvEngineAPIKey, "engine-key")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Matrix.AccessToken != "syt_secret" {
		t.Errorf("Matrix.AccessToken = %q, want env value", cfg.Matrix.AccessToken)
	}
	if cfg.Engine.APIKey != "engine-key" {
		t.Errorf("Engine.APIKey = %q, want env value", cfg.Engine.APIKey)
	}

	// Secrets from the environment are not written back.
	data, _ := os.ReadFile(ConfigPath(dir))
	if strings.Contains(string(data), "syt_secret") {
		t.Error("env secret leaked into config file")
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("engine: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Error("LoadConfig() error = nil, want parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad network type", func(c *Config) { c.NetworkType = "regtest" }, true},
		{"unknown engine network", func(c *Config) { c.Engine.Network = "polygon_amoy" }, true},
		{"non evm engine network", func(c *Config) { c.Engine.Network = "bitcoin_testnet" }, true},
		{"zero timeout", func(c *Config) { c.Engine.RequestTimeout = 0 }, true},
		{"no attempts", func(c *Config) { c.Engine.RetryAttempts = 0 }, true},
		{"mnemonic words", func(c *Config) { c.Session.MnemonicWords = 18 }, true},
		{"24 words", func(c *Config) { c.Session.MnemonicWords = 24 }, false},
		{"esplora api", func(c *Config) { c.Chains.BitcoinAPIType = "esplora" }, false},
		{"electrum api", func(c *Config) { c.Chains.BitcoinAPIType = "electrum" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDBPathAndEVMRPC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/var/lib/swapbot"
	if got := cfg.DBPath(); got != "/var/lib/swapbot/swapbot.db" {
		t.Errorf("DBPath() = %s", got)
	}

	if _, ok := cfg.EVMRPCURL("ethereum_sepolia"); !ok {
		t.Error("EVMRPCURL(ethereum_sepolia) not configured")
	}
	if _, ok := cfg.EVMRPCURL("citrea_testnet"); ok {
		t.Error("EVMRPCURL(citrea_testnet) should be unset")
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandPath("~/.swapbot"); got != filepath.Join(home, ".swapbot") {
		t.Errorf("ExpandPath() = %s", got)
	}
	if got := ExpandPath("/tmp/x"); got != "/tmp/x" {
		t.Errorf("ExpandPath() = %s", got)
	}
}
