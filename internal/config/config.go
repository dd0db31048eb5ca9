// Package config holds the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/swapbot/internal/chain"
)

// Environment variables that override secrets from the config file.
const (
	EnvMatrixToken  = "SWAPBOT_MATRIX_TOKEN"
	EnvEngineAPIKey = "SWAPBOT_ENGINE_API_KEY"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDBFile is the SQLite file name inside the data directory.
const DefaultDBFile = "swapbot.db"

// Config holds all configuration for the swap bot daemon.
type Config struct {
	// NetworkType is the Bitcoin network wallets are created for.
	NetworkType chain.Network `yaml:"network_type"`

	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Matrix  MatrixConfig  `yaml:"matrix"`
	Engine  EngineConfig  `yaml:"engine"`
	Chains  ChainsConfig  `yaml:"chains"`
	Session SessionConfig `yaml:"session"`
	RPC     RPCConfig     `yaml:"rpc"`

	// Assets overrides contract addresses and amount bounds of the built-in
	// assets, keyed by "chain:SYMBOL".
	Assets map[string]chain.AssetOverride `yaml:"assets,omitempty"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`

	// DBFile is the SQLite file name, relative to DataDir.
	DBFile string `yaml:"db_file"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// File is the log file path (empty for stderr only).
	File string `yaml:"file"`
}

// MatrixConfig holds the chat transport settings.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver"`
	UserID      string `yaml:"user_id"`
	AccessToken string `yaml:"access_token"`

	// AllowedRooms restricts the bot to these room ids. Empty allows any
	// room the bot is invited to.
	AllowedRooms []string `yaml:"allowed_rooms,omitempty"`

	// CommandPrefix starts a command, "/" by default.
	CommandPrefix string `yaml:"command_prefix"`

	// AutoJoin accepts room invites.
	AutoJoin bool `yaml:"auto_join"`
}

// EngineConfig holds swap engine endpoints and client behaviour.
type EngineConfig struct {
	// Network is the EVM chain the engine instance is bound to, and the
	// default network selection for new users.
	Network string `yaml:"network"`

	OrderbookURL       string `yaml:"orderbook_url"`
	QuoteURL           string `yaml:"quote_url"`
	EVMRelayerURL      string `yaml:"evm_relayer_url"`
	StarknetRelayerURL string `yaml:"starknet_relayer_url"`
	APIKey             string `yaml:"api_key"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`

	// PollInterval is how often the settlement loop checks open orders.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ChainsConfig holds chain RPC endpoints.
type ChainsConfig struct {
	// EVMRPC maps a chain id (e.g. "ethereum_sepolia") to a JSON-RPC URL.
	EVMRPC map[string]string `yaml:"evm_rpc"`

	// BitcoinAPI is a mempool.space or Esplora REST endpoint used to show
	// Bitcoin balances. Empty uses the public mempool.space instance.
	BitcoinAPI     string `yaml:"bitcoin_api"`
	BitcoinAPIType string `yaml:"bitcoin_api_type"`

	StarknetRPC       string        `yaml:"starknet_rpc"`
	StarknetClassHash string        `yaml:"starknet_class_hash"`
	RPCTimeout        time.Duration `yaml:"rpc_timeout"`
}

// SessionConfig holds per-user throttling and turn limits.
type SessionConfig struct {
	MessagesPerSecond float64       `yaml:"messages_per_second"`
	Burst             int           `yaml:"burst"`
	TurnTimeout       time.Duration `yaml:"turn_timeout"`
	MnemonicWords     int           `yaml:"mnemonic_words"`

	// IdleTimeout drops a conversation that has not been touched for this
	// long. LoginTTL logs out users idle for that long; zero keeps them
	// logged in until restart. A live login reloads its wallets into a
	// dropped conversation.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	LoginTTL    time.Duration `yaml:"login_ttl"`
}

// RPCConfig holds the operator JSON-RPC server settings.
type RPCConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		NetworkType: chain.Testnet,
		Storage: StorageConfig{
			DataDir: "~/.swapbot",
			DBFile:  DefaultDBFile,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Matrix: MatrixConfig{
			Homeserver:    "https://matrix.org",
			CommandPrefix: "/",
			AutoJoin:      true,
		},
		Engine: EngineConfig{
			Network:            "arbitrum_sepolia",
			OrderbookURL:       "https://testnet.api.garden.finance/orders",
			QuoteURL:           "https://testnet.api.garden.finance/quote",
			EVMRelayerURL:      "https://testnet.api.garden.finance/relayer",
			StarknetRelayerURL: "https://starknet-relayer.garden.finance",
			RequestTimeout:     30 * time.Second,
			RetryAttempts:      3,
			RequestsPerSecond:  5,
			Burst:              10,
			PollInterval:       10 * time.Second,
		},
		Chains: ChainsConfig{
			EVMRPC: map[string]string{
				"ethereum_sepolia": "https://ethereum-sepolia-rpc.publicnode.com",
				"arbitrum_sepolia": "https://sepolia-rollup.arbitrum.io/rpc",
				"base_sepolia":     "https://sepolia.base.org",
			},
			BitcoinAPIType: "mempool",
			StarknetRPC:    "https://starknet-sepolia.public.blastapi.io/rpc/v0_7",
			RPCTimeout:     10 * time.Second,
		},
		Session: SessionConfig{
			MessagesPerSecond: 1,
			Burst:             5,
			TurnTimeout:       90 * time.Second,
			MnemonicWords:     12,
			IdleTimeout:       time.Hour,
			LoginTTL:          12 * time.Hour,
		},
		RPC: RPCConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:8090",
		},
	}
}

// LoadConfig loads configuration from config.yaml in dataDir.
// If the file doesn't exist, it creates one with default values.
// Secrets from the environment take precedence over the file.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	var cfg *Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		cfg = DefaultConfig()
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvMatrixToken)); v != "" {
		c.Matrix.AccessToken = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEngineAPIKey)); v != "" {
		c.Engine.APIKey = v
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if c.NetworkType != chain.Mainnet && c.NetworkType != chain.Testnet {
		return fmt.Errorf("invalid network_type %q", c.NetworkType)
	}
	if c.Engine.Network != "" {
		p, ok := chain.Get(c.Engine.Network)
		if !ok {
			return fmt.Errorf("unknown engine network %q", c.Engine.Network)
		}
		if p.Family != chain.FamilyEVM {
			return fmt.Errorf("engine network %q is not an EVM chain", c.Engine.Network)
		}
	}
	if c.Engine.RequestTimeout <= 0 {
		return fmt.Errorf("engine request_timeout must be positive")
	}
	if c.Engine.RetryAttempts < 1 {
		return fmt.Errorf("engine retry_attempts must be at least 1")
	}
	switch c.Chains.BitcoinAPIType {
	case "", "mempool", "esplora":
	default:
		return fmt.Errorf("unsupported bitcoin_api_type %q", c.Chains.BitcoinAPIType)
	}
	if c.Session.MnemonicWords != 12 && c.Session.MnemonicWords != 24 {
		return fmt.Errorf("session mnemonic_words must be 12 or 24")
	}
	return nil
}

// EVMRPCURL returns the configured RPC URL for an EVM chain.
func (c *Config) EVMRPCURL(chainID string) (string, bool) {
	url, ok := c.Chains.EVMRPC[chainID]
	return url, ok && url != ""
}

// DBPath returns the absolute SQLite path.
func (c *Config) DBPath() string {
	file := c.Storage.DBFile
	if file == "" {
		file = DefaultDBFile
	}
	return filepath.Join(ExpandPath(c.Storage.DataDir), file)
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Swap Bot Configuration\n# Generated automatically on first run\n# Secrets may be supplied via " +
		EnvMatrixToken + " and " + EnvEngineAPIKey + "\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
