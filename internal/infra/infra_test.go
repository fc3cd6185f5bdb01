package infra

import (
	"context"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewRedisClient(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	if _, err := NewRedisClient(context.Background(), ""); err == nil {
		t.Fatalf("expected empty url to fail")
	}
}

func TestPoolOptions(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://ledger@localhost:5432/ledger")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	WithApplicationName("microsave-ledger")(cfg)
	WithMaxConns(7)(cfg)
	WithMaxConns(0)(cfg)

	if cfg.ConnConfig.RuntimeParams["application_name"] != "microsave-ledger" {
		t.Fatalf("application name not applied: %v", cfg.ConnConfig.RuntimeParams)
	}
	if cfg.MaxConns != 7 {
		t.Fatalf("expected 7 max conns, got %d", cfg.MaxConns)
	}
}

func TestSchemaDeclaresConstraintsTheStoreRelies(t *testing.T) {
	for _, want := range []string{
		"ledger_transactions_idempotency_key_key",
		"CHECK (balance >= 0)",
		"CHECK (amount > 0)",
		"ledger_transactions_status_idx",
	} {
		if !strings.Contains(schema, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}
