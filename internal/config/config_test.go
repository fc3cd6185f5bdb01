package config

import (
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_NAME", "APP_ENV", "PORT", "LOG_LEVEL", "LOG_FORMAT", "DATABASE_URL", "REDIS_URL",
		shutdownSecondsEnvVar, shutdownDurationEnvVar, idemTTLSecondsEnvVar, idemTTLDurEnvVar,
		"LEDGER_MAX_ATTEMPTS", "LEDGER_RETRY_BACKOFF", "SETTLEMENT_TIMEOUT",
		"SETTLEMENT_SUCCESS_RATE", "SETTLEMENT_LATENCY", "KAFKA_BROKERS", "KAFKA_TOPIC",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaultsInDevelopment(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.LedgerMaxAttempts != 3 || cfg.LedgerRetryBackoff != 50*time.Millisecond {
		t.Fatalf("unexpected retry defaults: %d %s", cfg.LedgerMaxAttempts, cfg.LedgerRetryBackoff)
	}
	if cfg.SettlementTimeout != 10*time.Second || cfg.SettlementSuccessRate != 0.9 {
		t.Fatalf("unexpected settlement defaults: %s %v", cfg.SettlementTimeout, cfg.SettlementSuccessRate)
	}
	if cfg.IdempotencyTTL != 24*time.Hour || cfg.KafkaTopic != "ledger.transactions" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadRequiresBackingServicesOutsideDevelopment(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to fail")
	}

	t.Setenv("DATABASE_URL", "postgres://ledger@localhost/ledger")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing REDIS_URL to fail")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", ":9090")
	t.Setenv(shutdownSecondsEnvVar, "3")
	t.Setenv(idemTTLDurEnvVar, "90m")
	t.Setenv("LEDGER_MAX_ATTEMPTS", "5")
	t.Setenv("LEDGER_RETRY_BACKOFF", "10ms")
	t.Setenv("SETTLEMENT_TIMEOUT", "2s")
	t.Setenv("SETTLEMENT_SUCCESS_RATE", "0.25")
	t.Setenv("SETTLEMENT_LATENCY", "150ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("LOG_FORMAT", "TEXT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" || cfg.ShutdownPeriod != 3*time.Second || cfg.IdempotencyTTL != 90*time.Minute {
		t.Fatalf("unexpected server settings: %+v", cfg)
	}
	if cfg.LedgerMaxAttempts != 5 || cfg.LedgerRetryBackoff != 10*time.Millisecond {
		t.Fatalf("unexpected ledger settings: %+v", cfg)
	}
	if cfg.SettlementTimeout != 2*time.Second || cfg.SettlementSuccessRate != 0.25 || cfg.SettlementLatency != 150*time.Millisecond {
		t.Fatalf("unexpected settlement settings: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.KafkaBrokers, []string{"kafka-1:9092", "kafka-2:9092"}) {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.LogFormat != "text" {
		t.Fatalf("expected text log format, got %q", cfg.LogFormat)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LEDGER_MAX_ATTEMPTS":     "0",
		"SETTLEMENT_SUCCESS_RATE": "1.5",
		"SETTLEMENT_TIMEOUT":      "soon",
		shutdownSecondsEnvVar:     "ten",
		"LOG_FORMAT":              "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}
}
