package accounts

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/transactions"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	engine *ledger.Engine
}

// NewHandler builds an account HTTP handler.
func NewHandler(engine *ledger.Engine) *Handler {
	return &Handler{engine: engine}
}

type accountResponse struct {
	ID        string    `json:"id"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newAccountResponse(acct ledger.Account) accountResponse {
	return accountResponse{
		ID:        acct.ID,
		Balance:   acct.Balance.StringFixed(ledger.Scale),
		CreatedAt: acct.CreatedAt,
		UpdatedAt: acct.UpdatedAt,
	}
}

// Create provisions an account with a zero balance.
func (h *Handler) Create(c *fiber.Ctx) error {
	acct, err := h.engine.CreateAccount(c.UserContext())
	if err != nil {
		return transactions.HTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(newAccountResponse(acct))
}

// Get returns the account.
func (h *Handler) Get(c *fiber.Ctx) error {
	acct, err := h.engine.GetAccount(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return transactions.HTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(newAccountResponse(acct))
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	balance, err := h.engine.GetBalance(c.UserContext(), accountID)
	if err != nil {
		return transactions.HTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id": accountID,
		"balance":    balance.StringFixed(ledger.Scale),
		"timestamp":  time.Now().UTC(),
	})
}

// Transactions lists the account's history, newest first.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	accountID := c.Params("accountId")
	txns, err := h.engine.ListTransactions(c.UserContext(), accountID)
	if err != nil {
		return transactions.HTTPError(err)
	}
	out := make([]transactions.TransactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, transactions.NewTransactionResponse(txn))
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"account_id":   accountID,
		"transactions": out,
	})
}
