package main

import (
	"context"
	"fmt"

	"github.com/microsave/ledger/internal/config"
	"github.com/microsave/ledger/internal/infra"
	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/logging"
	"github.com/microsave/ledger/internal/settlement"
)

// backend is what every subcommand runs against.
type backend struct {
	engine  *ledger.Engine
	migrate func(ctx context.Context) error
	close   func()
}

type backendFunc func(ctx context.Context, databaseURL string) (*backend, error)

type rootOptions struct {
	databaseURL string
	open        backendFunc
}

func (o *rootOptions) backend(ctx context.Context) (*backend, error) {
	return o.open(ctx, o.databaseURL)
}

func defaultBackend(ctx context.Context, databaseURL string) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if databaseURL == "" {
		databaseURL = cfg.DatabaseURL
	}
	if databaseURL == "" {
		return nil, fmt.Errorf("database url is required: pass --database-url or set DATABASE_URL")
	}

	pool, err := infra.NewPostgresPool(ctx, databaseURL, infra.WithApplicationName("ledgerctl"))
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	// Operator commands never settle externally; resolve supplies the outcome.
	engine := ledger.NewEngine(ledger.NewPostgresStore(pool), settlement.Static{Decline: true}, ledger.Options{
		MaxAttempts:  cfg.LedgerMaxAttempts,
		RetryBackoff: cfg.LedgerRetryBackoff,
		Logger:       logger,
	})
	return &backend{
		engine:  engine,
		migrate: func(ctx context.Context) error { return infra.Migrate(ctx, pool) },
		close:   pool.Close,
	}, nil
}
