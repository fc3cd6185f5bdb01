package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/microsave/ledger/internal/logging"
)

// Audit emits structured logs for each request/response lifecycle event.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if key := c.Get(IdempotencyKeyHeader); key != "" {
			attrs = append(attrs, slog.String("idempotency_key", key))
		}
		if replayed := string(c.Response().Header.Peek(ReplayedHeader)); replayed != "" {
			attrs = append(attrs, slog.Bool("replayed", replayed == "true"))
		}

		log := logging.WithRequestID(c.UserContext(), logger)
		switch {
		case status >= fiber.StatusInternalServerError:
			log.Error("request completed", append(attrs, slog.Any("error", err))...)
		case err != nil:
			log.Warn("request completed", append(attrs, slog.Any("error", err))...)
		default:
			log.Info("request completed", attrs...)
		}
		return err
	}
}
