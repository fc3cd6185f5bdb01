package transactions

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/middleware"
)

// Handler exposes money-movement endpoints.
type Handler struct {
	engine *ledger.Engine
}

// NewHandler constructs a transactions handler.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{engine: engine}
}

// Deposit credits an account.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req DepositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Deposit(c.UserContext(), ledger.DepositInput{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		Description:    req.Description,
	})
	if err != nil {
		return HTTPError(err)
	}
	return respond(c, res)
}

// Transfer moves funds between two accounts.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Transfer(c.UserContext(), ledger.TransferInput{
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		Description:    req.Description,
	})
	if err != nil {
		return HTTPError(err)
	}
	return respond(c, res)
}

// Withdraw settles funds out of an account. A declined settlement answers 422
// with the FAILED record as body.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.Withdraw(c.UserContext(), ledger.WithdrawalInput{
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		IdempotencyKey: idempotencyKey(c),
		Description:    req.Description,
	})
	if err != nil {
		return HTTPError(err)
	}
	return respond(c, res)
}

// Get returns a single transaction.
func (h *Handler) Get(c *fiber.Ctx) error {
	txn, err := h.engine.GetTransaction(c.UserContext(), c.Params("transactionId"))
	if err != nil {
		return HTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(NewTransactionResponse(txn))
}

// Summary aggregates the transaction log by type and status.
func (h *Handler) Summary(c *fiber.Ctx) error {
	rows, err := h.engine.Summary(c.UserContext())
	if err != nil {
		return HTTPError(err)
	}
	out := make([]SummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, SummaryRow{
			Type:   string(row.Type),
			Status: string(row.Status),
			Count:  row.Count,
			Total:  row.Total.StringFixed(ledger.Scale),
		})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"summary": out})
}

// HTTPError translates ledger errors into HTTP errors.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrValidation), errors.Is(err, ledger.ErrInvalidTransfer):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, "transaction not found")
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ledger.ErrTransactionTerminal), errors.Is(err, ledger.ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrSerializationConflict):
		return fiber.NewError(http.StatusServiceUnavailable, "ledger busy, retry with the same Idempotency-Key")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}

func idempotencyKey(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Get(middleware.IdempotencyKeyHeader))
}

func respond(c *fiber.Ctx, res ledger.Result) error {
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
		c.Set(middleware.ReplayedHeader, "true")
	}
	if res.Transaction.Status == ledger.StatusFailed {
		status = http.StatusUnprocessableEntity
	}
	return c.Status(status).JSON(NewTransactionResponse(res.Transaction))
}
