package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/mikiyas9815-glitch/Telegram-bot/internal/config"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/infra/logger"
	"github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/boltstore"
	pgrepo "github.com/mikiyas9815-glitch/Telegram-bot/internal/repo/postgres"
)

func main() {
	cfgPath := os.Getenv("APP_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env, cfg.Log.Level, "migrate")
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Ledger.Driver {
	case config.LedgerDriverPostgres:
		pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := pgrepo.Migrate(ctx, pool); err != nil {
			log.Fatal("apply schema", zap.Error(err))
		}
	case config.LedgerDriverBolt:
		// Opening the file creates the buckets.
		store, err := boltstore.Open(cfg.Ledger.BoltPath)
		if err != nil {
			log.Fatal("open bolt ledger", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			log.Fatal("close bolt ledger", zap.Error(err))
		}
	}

	log.Info("ledger schema ready", zap.String("driver", cfg.Ledger.Driver))
}
