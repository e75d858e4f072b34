package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"escrowd/config"
	"escrowd/core"
	"escrowd/observability/logging"
	"escrowd/rpc"
	"escrowd/storage"
)

const rpcTokenEnv = "ESCROWD_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("ESCROWD_ENV"))
	logger := logging.Setup("escrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	nodeCfg, err := cfg.NodeConfig()
	if err != nil {
		logger.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.String("dataDir", cfg.DataDir), slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	authToken := strings.TrimSpace(os.Getenv(rpcTokenEnv))
	if authToken == "" {
		logger.Warn("No RPC auth token configured; mutating methods are open", slog.String("env", rpcTokenEnv))
	}

	server := rpc.NewServer(node, authToken)
	logger.Info("Starting JSON-RPC server",
		slog.String("address", cfg.RPCAddress),
		slog.String("nativeToken", nodeCfg.NativeToken),
	)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
