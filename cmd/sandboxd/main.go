package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danmuck/deskterm/internal/config"
	"github.com/danmuck/deskterm/internal/observability"
	"github.com/danmuck/deskterm/internal/sandbox"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "cmd/sandboxd/config.toml", "path to sandbox TOML config")
	flag.Parse()

	_ = godotenv.Load()
	logger := observability.InitLogger("sandboxd")
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.LoadSandboxConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sandboxd: %v\n", err)
		os.Exit(1)
	}

	var ledger sandbox.Ledger
	if cfg.LedgerPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "sandboxd: %v\n", err)
			os.Exit(1)
		}
		l, err := sandbox.OpenLedger(cfg.LedgerPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sandboxd: %v\n", err)
			os.Exit(1)
		}
		defer l.Close()
		ledger = l
	}

	registry := sandbox.NewRegistry(sandbox.RegistryOptions{
		TTL:      cfg.TTL(),
		WorkRoot: cfg.WorkRoot,
		Seed:     cfg.Seed(),
		Ledger:   ledger,
		Logger:   logger.With().Str("component", "registry").Logger(),
	})
	srv := sandbox.New(sandbox.Options{
		ID:            cfg.ID,
		Addr:          cfg.Addr,
		CorsOrigins:   cfg.CorsOrigins,
		APIKey:        cfg.APIKey,
		SweepInterval: cfg.Sweep(),
		Registry:      registry,
		Spawner:       sandbox.PTYSpawner{Command: cfg.Shell},
		Logger:        logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("sandbox stopped")
		os.Exit(1)
	}
}
