package transactions

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/microsave/ledger/internal/ledger"
)

// DepositRequest credits AccountID with Amount.
type DepositRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// TransferRequest moves Amount from SenderID to ReceiverID.
type TransferRequest struct {
	SenderID    string          `json:"sender_id"`
	ReceiverID  string          `json:"receiver_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// WithdrawRequest pushes Amount out of AccountID through settlement.
type WithdrawRequest struct {
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// TransactionResponse is the API view of a ledger transaction. Amounts are
// strings with two decimals.
type TransactionResponse struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	Amount         string    `json:"amount"`
	IdempotencyKey string    `json:"idempotency_key"`
	SenderID       string    `json:"sender_id,omitempty"`
	ReceiverID     string    `json:"receiver_id,omitempty"`
	Description    string    `json:"description,omitempty"`
	FailureReason  string    `json:"failure_reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewTransactionResponse maps a ledger record onto its API view.
func NewTransactionResponse(txn ledger.Transaction) TransactionResponse {
	return TransactionResponse{
		ID:             txn.ID,
		Type:           string(txn.Type),
		Status:         string(txn.Status),
		Amount:         txn.Amount.StringFixed(ledger.Scale),
		IdempotencyKey: txn.IdempotencyKey,
		SenderID:       txn.SenderID,
		ReceiverID:     txn.ReceiverID,
		Description:    txn.Description,
		FailureReason:  txn.FailureReason,
		CreatedAt:      txn.CreatedAt,
		UpdatedAt:      txn.UpdatedAt,
	}
}

// SummaryRow is one type/status bucket of the admin summary.
type SummaryRow struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Count  int64  `json:"count"`
	Total  string `json:"total"`
}
