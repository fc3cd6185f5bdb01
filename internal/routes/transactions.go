package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microsave/ledger/internal/transactions"
)

// RegisterTransactionRoutes wires money-movement endpoints. The idempotency
// middleware, when present, guards only the mutating routes.
func RegisterTransactionRoutes(r fiber.Router, h *transactions.Handler, idempotency fiber.Handler) {
	mutating := []fiber.Handler{}
	if idempotency != nil {
		mutating = append(mutating, idempotency)
	}
	r.Post("/transactions/deposit", append(mutating, h.Deposit)...)
	r.Post("/transactions/transfer", append(mutating, h.Transfer)...)
	r.Post("/transactions/withdraw", append(mutating, h.Withdraw)...)
	r.Get("/transactions/:transactionId", h.Get)
	r.Get("/admin/summary", h.Summary)
}
