// Package main provides the swapbotd daemon: a Matrix bot that custodies
// user wallets and runs cross-chain swaps through the swap engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/klingon-exchange/swapbot/internal/backend"
	"github.com/klingon-exchange/swapbot/internal/bot"
	"github.com/klingon-exchange/swapbot/internal/chain"
	"github.com/klingon-exchange/swapbot/internal/config"
	"github.com/klingon-exchange/swapbot/internal/engine"
	"github.com/klingon-exchange/swapbot/internal/evm"
	"github.com/klingon-exchange/swapbot/internal/matrix"
	"github.com/klingon-exchange/swapbot/internal/notify"
	"github.com/klingon-exchange/swapbot/internal/rpc"
	"github.com/klingon-exchange/swapbot/internal/session"
	"github.com/klingon-exchange/swapbot/internal/storage"
	"github.com/klingon-exchange/swapbot/internal/swap"
	"github.com/klingon-exchange/swapbot/internal/wallet"
	"github.com/klingon-exchange/swapbot/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.swapbot", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "Operator JSON-RPC address, enables the RPC server")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate data directory)")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error), overrides config")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Initial logger; replaced once the config is loaded.
	log := logging.New(&logging.Config{
		Level:      "info",
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("swapbotd %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	configDir := effectiveDataDir
	if *configFile != "" {
		configDir = filepath.Dir(*configFile)
	}
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}
	if *configFile == "" {
		cfg.Storage.DataDir = effectiveDataDir
	}
	if *testnet {
		cfg.NetworkType = chain.Testnet
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *apiAddr != "" {
		cfg.RPC.Enabled = true
		cfg.RPC.ListenAddr = *apiAddr
	}

	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
		File:       cfg.Logging.File,
	})
	logging.SetDefault(log)
	log.Info("Config loaded", "path", config.ConfigPath(configDir))

	if unknown := chain.ApplyOverrides(cfg.Assets); len(unknown) > 0 {
		log.Warn("Ignoring overrides for unknown assets", "assets", unknown)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	store, err := storage.New(&storage.Config{
		DataDir: config.ExpandPath(cfg.Storage.DataDir),
		DBFile:  cfg.Storage.DBFile,
	})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", cfg.DBPath())

	walletStore := storage.NewWalletStore(store, wallet.NewCipher(nil))

	// Wallet custody
	var deployments wallet.DeploymentChecker
	if cfg.Chains.StarknetRPC != "" {
		starknetRPC, err := wallet.NewStarknetRPC(ctx, cfg.Chains.StarknetRPC, cfg.Chains.RPCTimeout)
		if err != nil {
			log.Warn("Starknet RPC unavailable, deployment checks disabled", "error", err)
		} else {
			defer starknetRPC.Close()
			deployments = starknetRPC
		}
	}
	walletService := wallet.NewService(&wallet.ServiceConfig{
		Network:           cfg.NetworkType,
		StarknetClassHash: cfg.Chains.StarknetClassHash,
		MnemonicWords:     cfg.Session.MnemonicWords,
		Deployments:       deployments,
	})
	log.Info("Wallet service initialized", "network", cfg.NetworkType)

	balances := evm.NewBalances(cfg.Chains.EVMRPC, cfg.Chains.RPCTimeout)
	defer balances.Close()

	bitcoinURL := cfg.Chains.BitcoinAPI
	if bitcoinURL == "" {
		bitcoinURL = backend.DefaultURL(cfg.NetworkType)
	}
	bitcoin, err := backend.New(&backend.Config{
		Type:    backend.Type(cfg.Chains.BitcoinAPIType),
		URL:     bitcoinURL,
		Timeout: cfg.Chains.RPCTimeout,
	})
	if err != nil {
		log.Fatal("Failed to create Bitcoin backend", "error", err)
	}
	defer bitcoin.Close()

	// Order correlation survives restarts through the orders table.
	correlator := notify.NewCorrelator()
	if n, err := correlator.Restore(ctx, store); err != nil {
		log.Warn("Failed to restore open orders", "error", err)
	} else if n > 0 {
		log.Info("Open orders restored", "count", n)
	}

	orchestrator := swap.NewOrchestrator(&swap.OrchestratorConfig{
		Engines:    engineFactory(cfg),
		Accounts:   walletService,
		Correlator: correlator,
		Orders:     store,
	})
	defer orchestrator.Close()

	// Sessions
	states := session.NewMemoryStore[*session.State](cfg.Session.IdleTimeout)
	logins := session.NewMemoryStore[*session.Auth](cfg.Session.LoginTTL)
	sessions := session.NewManager(states, logins)

	b := bot.New(&bot.Config{
		MessagesPerSecond: cfg.Session.MessagesPerSecond,
		Burst:             cfg.Session.Burst,
		TurnTimeout:       cfg.Session.TurnTimeout,
		CommandPrefix:     cfg.Matrix.CommandPrefix,
	}, bot.Deps{
		Sessions: sessions,
		Machine:  session.DefaultMachine(),
		Custody:  walletService,
		Users:    store,
		Wallets:  walletStore,
		Swaps:    orchestrator,
		Balances: balances,
		Bitcoin:  bitcoin,
	})

	transport, err := matrix.New(&matrix.Config{
		Homeserver:    cfg.Matrix.Homeserver,
		UserID:        cfg.Matrix.UserID,
		AccessToken:   cfg.Matrix.AccessToken,
		AllowedRooms:  cfg.Matrix.AllowedRooms,
		AutoJoin:      cfg.Matrix.AutoJoin,
		CommandPrefix: cfg.Matrix.CommandPrefix,
	}, b)
	if err != nil {
		log.Fatal("Failed to create Matrix transport", "error", err)
	}
	defer transport.Close()

	notifier := notify.NewHandler(&notify.HandlerConfig{
		Correlator: correlator,
		Sender:     transport,
		Orders:     store,
	})
	orchestrator.OnEvent(notifier.HandleEvent)

	// Operator RPC
	var rpcServer *rpc.Server
	if cfg.RPC.Enabled {
		rpcServer = rpc.NewServer(&rpc.ServerConfig{
			Orders:  correlator,
			Store:   store,
			Network: string(cfg.NetworkType),
		})
		if err := rpcServer.Start(cfg.RPC.ListenAddr); err != nil {
			log.Fatal("Failed to start RPC server", "error", err)
		}
		orchestrator.OnEvent(rpcServer.HandleEvent)
	}

	go sweepSessions(ctx, log.Component("session"), states, logins)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- transport.Run(ctx)
	}()

	printBanner(log, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Shutting down...")
	case err := <-syncErr:
		if err != nil {
			log.Error("Matrix transport stopped", "error", err)
		}
	}

	cancel()
	if rpcServer != nil {
		if err := rpcServer.Stop(); err != nil {
			log.Error("Error stopping RPC server", "error", err)
		}
	}

	log.Info("Goodbye!")
}

// engineFactory builds an engine client per EVM network, sharing the
// configured endpoints.
func engineFactory(cfg *config.Config) swap.EngineFactory {
	return func(network string) (engine.Engine, error) {
		retry := engine.DefaultConfig().Retry
		retry.MaxAttempts = cfg.Engine.RetryAttempts
		return engine.NewClient(&engine.Config{
			Network:            network,
			OrderbookURL:       cfg.Engine.OrderbookURL,
			QuoteURL:           cfg.Engine.QuoteURL,
			EVMRelayerURL:      cfg.Engine.EVMRelayerURL,
			StarknetRelayerURL: cfg.Engine.StarknetRelayerURL,
			APIKey:             cfg.Engine.APIKey,
			RequestTimeout:     cfg.Engine.RequestTimeout,
			Retry:              retry,
			RequestsPerSecond:  cfg.Engine.RequestsPerSecond,
			Burst:              cfg.Engine.Burst,
			PollInterval:       cfg.Engine.PollInterval,
		}), nil
	}
}

type sweeper interface {
	Sweep() []string
}

func sweepSessions(ctx context.Context, log *logging.Logger, stores ...sweeper) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := 0
			for _, s := range stores {
				removed += len(s.Sweep())
			}
			if removed > 0 {
				log.Debug("Expired sessions removed", "count", removed)
			}
		}
	}
}

func printBanner(log *logging.Logger, cfg *config.Config) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  Swap Bot (%s)", cfg.NetworkType)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Matrix:  %s as %s", cfg.Matrix.Homeserver, cfg.Matrix.UserID)
	log.Infof("  Engine:  %s", cfg.Engine.OrderbookURL)
	if cfg.RPC.Enabled {
		log.Infof("  API:     http://%s", cfg.RPC.ListenAddr)
		log.Infof("  WS:      ws://%s/ws", cfg.RPC.ListenAddr)
	}
	log.Infof("  Data dir: %s", config.ExpandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
