package accounts

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/settlement"
)

func setup(t *testing.T) (*fiber.App, *ledger.Engine, ledger.Store) {
	t.Helper()
	store := ledger.NewInMemory()
	engine := ledger.NewEngine(store, settlement.Static{}, ledger.Options{})
	h := NewHandler(engine)

	app := fiber.New()
	app.Post("/accounts", h.Create)
	app.Get("/accounts/:accountId", h.Get)
	app.Get("/accounts/:accountId/balance", h.Balance)
	app.Get("/accounts/:accountId/transactions", h.Transactions)
	return app, engine, store
}

func decodeJSON(t *testing.T, app *fiber.App, method, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, path, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected %d got %d", method, path, wantStatus, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
}

func TestCreateAndGetAccount(t *testing.T) {
	app, _, _ := setup(t)

	var created accountResponse
	decodeJSON(t, app, fiber.MethodPost, "/accounts", fiber.StatusCreated, &created)
	if created.ID == "" || created.Balance != "0.00" {
		t.Fatalf("unexpected account: %+v", created)
	}

	var fetched accountResponse
	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+created.ID, fiber.StatusOK, &fetched)
	if fetched.ID != created.ID {
		t.Fatalf("expected %s got %s", created.ID, fetched.ID)
	}
}

func TestBalanceAndHistory(t *testing.T) {
	app, engine, store := setup(t)

	var created accountResponse
	decodeJSON(t, app, fiber.MethodPost, "/accounts", fiber.StatusCreated, &created)
	ledger.SeedBalance(store, created.ID, decimal.RequireFromString("12.5"))

	var balance struct {
		AccountID string `json:"account_id"`
		Balance   string `json:"balance"`
	}
	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+created.ID+"/balance", fiber.StatusOK, &balance)
	if balance.Balance != "12.50" {
		t.Fatalf("expected 12.50 got %s", balance.Balance)
	}

	if _, err := engine.Withdraw(context.Background(), ledger.WithdrawalInput{
		AccountID: created.ID, Amount: decimal.RequireFromString("2.50"), IdempotencyKey: "h-1",
	}); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	var history struct {
		Transactions []struct {
			Type   string `json:"type"`
			Amount string `json:"amount"`
		} `json:"transactions"`
	}
	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+created.ID+"/transactions", fiber.StatusOK, &history)
	if len(history.Transactions) != 2 || history.Transactions[0].Type != "WITHDRAWAL" || history.Transactions[0].Amount != "2.50" {
		t.Fatalf("unexpected history: %+v", history.Transactions)
	}
}

func TestUnknownAccount(t *testing.T) {
	app, _, _ := setup(t)
	missing := uuid.NewString()

	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+missing, fiber.StatusNotFound, nil)
	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+missing+"/balance", fiber.StatusNotFound, nil)
	decodeJSON(t, app, fiber.MethodGet, "/accounts/"+missing+"/transactions", fiber.StatusNotFound, nil)
}
