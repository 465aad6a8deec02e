package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gorenbridge/EVMRPC"
	"gorenbridge/RENVMRPC"
	"gorenbridge/UTXORPC"
	"gorenbridge/config"
	"gorenbridge/redis"
	"gorenbridge/sdk"
	"gorenbridge/wallet"
	"gorenbridge/workers"
	"gorenbridge/workers/handlers"
)

// stored transfers are picked up at this pace, live flows poll faster
const resumeInterval = time.Minute

func configPath() string {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		return path
	}
	if _, err := os.Stat("config.yml"); err == nil {
		return "config.yml"
	}
	return ""
}

func setupLogging(cfg *config.Configuration) *os.File {
	level, err := log.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	name := filepath.Join(cfg.Server.LogDir, fmt.Sprintf("log_%s.txt", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Warnf("error opening log file for writing, logging to stderr: %v", err)
		return nil
	}
	log.SetOutput(f)
	return f
}

func main() {
	log.Print("Starting gateway bridge")

	config.Init(configPath())
	cfg := &config.Config

	if f := setupLogging(cfg); f != nil {
		defer f.Close()
	}
	log.WithFields(log.Fields{"listen": cfg.Server.Listen, "network": cfg.Network.RPCURL, "assets": cfg.SupportedAssets()}).Info("configuration loaded")

	// connect to Redis, without persistence do not continue
	store := redis.Init(cfg)
	defer store.Close()

	evm := EVMRPC.New(cfg)
	utxo := UTXORPC.New(cfg)
	relay := wallet.NewRelayProvider(evm, utxo)
	bridge := sdk.New(cfg, evm, utxo, RENVMRPC.New(cfg.Network.RPCURL), relay)

	walletStore := wallet.NewStore("")
	reg := workers.NewRegistry(cfg, bridge, store, walletStore)
	api := handlers.NewAPI(cfg, reg, store, walletStore, relay)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// two workers:
	// * API and static app HTTP server
	// * pending transfers resumption
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Worker_HTTP(ctx, cfg, api) })
	g.Go(func() error { return workers.Worker_resumePending(ctx, reg, resumeInterval) })

	err := g.Wait()
	reg.CloseAll()
	if err != nil {
		log.Fatalf("bridge stopped: %s", err.Error())
	}
	log.Print("bridge stopped")
}
