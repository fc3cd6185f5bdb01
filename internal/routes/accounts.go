package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/microsave/ledger/internal/accounts"
)

// RegisterAccountRoutes wires account endpoints.
func RegisterAccountRoutes(r fiber.Router, h *accounts.Handler) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/:accountId", h.Get)
	r.Get("/accounts/:accountId/balance", h.Balance)
	r.Get("/accounts/:accountId/transactions", h.Transactions)
}
