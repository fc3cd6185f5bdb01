package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/microsave/ledger/internal/accounts"
	"github.com/microsave/ledger/internal/config"
	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/logging"
	"github.com/microsave/ledger/internal/middleware"
	"github.com/microsave/ledger/internal/notification"
	"github.com/microsave/ledger/internal/settlement"
	"github.com/microsave/ledger/internal/transactions"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg      config.Config
	DB       *pgxpool.Pool
	Cache    *redis.Client
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Notifier notification.Notifier
	// Settler overrides the simulator built from Cfg.
	Settler ledger.Settler
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDevelopment() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.LogFormat == "text" {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	} else {
		app.Use(middleware.Audit(d.Logger))
	}

	RegisterHealthRoutes(app, d)
	RegisterMetricsRoute(app, d.Registry)

	engine := ledger.NewEngine(newStore(d), newSettler(d), ledger.Options{
		MaxAttempts:       d.Cfg.LedgerMaxAttempts,
		RetryBackoff:      d.Cfg.LedgerRetryBackoff,
		SettlementTimeout: d.Cfg.SettlementTimeout,
		Logger:            d.Logger,
		Metrics:           ledger.NewMetrics(d.Registry),
		Notifier:          d.Notifier,
	})

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals(middleware.RequestIDHeader).(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	var idempotency fiber.Handler
	if d.Cache != nil {
		idempotency = middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
	}

	RegisterAccountRoutes(api, accounts.NewHandler(engine))
	RegisterTransactionRoutes(api, transactions.NewHandler(engine), idempotency)
	return nil
}

func newStore(d Deps) ledger.Store {
	if d.DB != nil {
		return ledger.NewPostgresStore(d.DB)
	}
	d.Logger.Warn("DATABASE_URL not set, using in-memory ledger store")
	return ledger.NewInMemory()
}

func newSettler(d Deps) ledger.Settler {
	if d.Settler != nil {
		return d.Settler
	}
	return settlement.NewSimulator(d.Cfg.SettlementSuccessRate, d.Cfg.SettlementLatency, nil)
}
