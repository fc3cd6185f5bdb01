package transactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/microsave/ledger/internal/ledger"
	"github.com/microsave/ledger/internal/middleware"
	"github.com/microsave/ledger/internal/settlement"
)

type fixture struct {
	app    *fiber.App
	engine *ledger.Engine
	store  ledger.Store
}

func setup(t *testing.T, settler ledger.Settler) fixture {
	t.Helper()
	store := ledger.NewInMemory()
	engine := ledger.NewEngine(store, settler, ledger.Options{})
	h := NewHandler(engine)

	app := fiber.New()
	app.Post("/transactions/deposit", h.Deposit)
	app.Post("/transactions/transfer", h.Transfer)
	app.Post("/transactions/withdraw", h.Withdraw)
	app.Get("/transactions/:transactionId", h.Get)
	app.Get("/admin/summary", h.Summary)
	return fixture{app: app, engine: engine, store: store}
}

func (f fixture) account(t *testing.T, balance string) string {
	t.Helper()
	acct, err := f.engine.CreateAccount(context.Background())
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		ledger.SeedBalance(f.store, acct.ID, amount)
	}
	return acct.ID
}

func (f fixture) post(t *testing.T, path, key, body string) (*http.Response, TransactionResponse) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(middleware.IdempotencyKeyHeader, key)
	}
	resp, err := f.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var out TransactionResponse
	if resp.StatusCode < 400 || resp.StatusCode == fiber.StatusUnprocessableEntity {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestDepositCreatedThenReplayed(t *testing.T) {
	f := setup(t, settlement.Static{})
	a := f.account(t, "0")
	body := fmt.Sprintf(`{"account_id":%q,"amount":"100.00"}`, a)

	resp, created := f.post(t, "/transactions/deposit", "k1", body)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201 got %d", resp.StatusCode)
	}
	if created.Status != "COMPLETED" || created.Amount != "100.00" || created.IdempotencyKey != "k1" {
		t.Fatalf("unexpected body: %+v", created)
	}

	resp, replayed := f.post(t, "/transactions/deposit", "k1", body)
	if resp.StatusCode != fiber.StatusOK || resp.Header.Get(middleware.ReplayedHeader) != "true" {
		t.Fatalf("expected 200 replay, got %d", resp.StatusCode)
	}
	if replayed.ID != created.ID {
		t.Fatalf("expected same record, got %s and %s", created.ID, replayed.ID)
	}

	balance, _ := f.engine.GetBalance(context.Background(), a)
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected balance 100 got %s", balance)
	}
}

func TestDepositAcceptsNumericAmount(t *testing.T) {
	f := setup(t, settlement.Static{})
	a := f.account(t, "0")

	resp, created := f.post(t, "/transactions/deposit", "num", fmt.Sprintf(`{"account_id":%q,"amount":12.5}`, a))
	if resp.StatusCode != fiber.StatusCreated || created.Amount != "12.50" {
		t.Fatalf("expected 201 with 12.50, got %d %+v", resp.StatusCode, created)
	}
}

func TestTransferOutcomes(t *testing.T) {
	f := setup(t, settlement.Static{})
	a := f.account(t, "100.00")
	b := f.account(t, "0")

	cases := []struct {
		name   string
		key    string
		body   string
		status int
	}{
		{"completed", "k2", fmt.Sprintf(`{"sender_id":%q,"receiver_id":%q,"amount":"30.00"}`, a, b), fiber.StatusCreated},
		{"insufficient funds", "k3", fmt.Sprintf(`{"sender_id":%q,"receiver_id":%q,"amount":"500.00"}`, a, b), fiber.StatusUnprocessableEntity},
		{"same account", "k5", fmt.Sprintf(`{"sender_id":%q,"receiver_id":%q,"amount":"1.00"}`, a, a), fiber.StatusBadRequest},
		{"unknown receiver", "k6", fmt.Sprintf(`{"sender_id":%q,"receiver_id":"nope","amount":"1.00"}`, a), fiber.StatusNotFound},
		{"zero amount", "k7", fmt.Sprintf(`{"sender_id":%q,"receiver_id":%q,"amount":"0"}`, a, b), fiber.StatusBadRequest},
		{"missing key", "", fmt.Sprintf(`{"sender_id":%q,"receiver_id":%q,"amount":"1.00"}`, a, b), fiber.StatusBadRequest},
		{"malformed body", "k8", `{"amount":`, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, _ := f.post(t, "/transactions/transfer", tc.key, tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.status, resp.StatusCode)
		}
	}

	balance, _ := f.engine.GetBalance(context.Background(), a)
	if !balance.Equal(decimal.RequireFromString("70")) {
		t.Fatalf("expected sender balance 70 got %s", balance)
	}
}

func TestWithdrawDeclinedReturnsFailedRecord(t *testing.T) {
	f := setup(t, settlement.Static{Decline: true, Reason: "rail rejected"})
	a := f.account(t, "70.00")
	body := fmt.Sprintf(`{"account_id":%q,"amount":"50.00"}`, a)

	resp, failed := f.post(t, "/transactions/withdraw", "k4", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.StatusCode)
	}
	if failed.Status != "FAILED" || failed.FailureReason != "rail rejected" {
		t.Fatalf("unexpected body: %+v", failed)
	}

	resp, replayed := f.post(t, "/transactions/withdraw", "k4", body)
	if resp.StatusCode != fiber.StatusUnprocessableEntity || resp.Header.Get(middleware.ReplayedHeader) != "true" {
		t.Fatalf("expected replayed 422, got %d", resp.StatusCode)
	}
	if replayed.ID != failed.ID {
		t.Fatalf("expected same record on replay")
	}
}

func TestWithdrawApproved(t *testing.T) {
	f := setup(t, settlement.Static{})
	a := f.account(t, "70.00")

	resp, done := f.post(t, "/transactions/withdraw", "w-1", fmt.Sprintf(`{"account_id":%q,"amount":"20.00"}`, a))
	if resp.StatusCode != fiber.StatusCreated || done.Status != "COMPLETED" {
		t.Fatalf("expected 201 COMPLETED, got %d %+v", resp.StatusCode, done)
	}
}

func TestGetTransactionAndSummary(t *testing.T) {
	f := setup(t, settlement.Static{})
	a := f.account(t, "0")
	_, created := f.post(t, "/transactions/deposit", "g-1", fmt.Sprintf(`{"account_id":%q,"amount":"5.00"}`, a))

	resp, err := f.app.Test(httptest.NewRequest(fiber.MethodGet, "/transactions/"+created.ID, nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var fetched TransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK || fetched.ID != created.ID {
		t.Fatalf("expected transaction %s, got %d %+v", created.ID, resp.StatusCode, fetched)
	}

	resp, _ = f.app.Test(httptest.NewRequest(fiber.MethodGet, "/transactions/missing", nil))
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}

	resp, _ = f.app.Test(httptest.NewRequest(fiber.MethodGet, "/admin/summary", nil))
	var summary struct {
		Summary []SummaryRow `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary.Summary) != 1 || summary.Summary[0].Count != 1 || summary.Summary[0].Total != "5.00" {
		t.Fatalf("unexpected summary: %+v", summary.Summary)
	}
}

func TestHTTPError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: amount", ledger.ErrValidation), fiber.StatusBadRequest},
		{ledger.ErrInvalidTransfer, fiber.StatusBadRequest},
		{ledger.ErrAccountNotFound, fiber.StatusNotFound},
		{ledger.ErrTransactionNotFound, fiber.StatusNotFound},
		{ledger.ErrInsufficientFunds, fiber.StatusUnprocessableEntity},
		{ledger.ErrTransactionTerminal, fiber.StatusConflict},
		{fmt.Errorf("unit of work failed after 3 attempts: %w", ledger.ErrSerializationConflict), fiber.StatusServiceUnavailable},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		var fe *fiber.Error
		if !errors.As(HTTPError(tc.err), &fe) || fe.Code != tc.code {
			t.Fatalf("%v: expected %d got %+v", tc.err, tc.code, fe)
		}
	}
}
