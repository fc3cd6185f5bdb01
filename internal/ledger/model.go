package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by every amount and balance.
const Scale = 2

// Account is a user balance. Balance is a cached projection of the log.
type Account struct {
	ID        string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Type identifies the kind of ledger transaction. It never changes after creation.
type Type string

const (
	TypeDeposit    Type = "DEPOSIT"
	TypeTransfer   Type = "TRANSFER"
	TypeWithdrawal Type = "WITHDRAWAL"
)

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Transaction is a record in the append-only transaction log.
type Transaction struct {
	ID             string
	Type           Type
	Status         Status
	Amount         decimal.Decimal
	IdempotencyKey string
	SenderID       string
	ReceiverID     string
	Description    string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Involves reports whether the account is the sender or receiver.
func (t Transaction) Involves(accountID string) bool {
	return t.SenderID == accountID || t.ReceiverID == accountID
}

// DeltaFor returns the balance change a COMPLETED transaction causes on the account.
func (t Transaction) DeltaFor(accountID string) decimal.Decimal {
	if t.Status != StatusCompleted {
		return decimal.Zero
	}
	delta := decimal.Zero
	if t.ReceiverID == accountID {
		delta = delta.Add(t.Amount)
	}
	if t.SenderID == accountID {
		delta = delta.Sub(t.Amount)
	}
	return delta
}

// Result is the canonical outcome of a ledger operation. Replayed is set when
// the idempotency key matched an existing record and nothing was written.
type Result struct {
	Transaction Transaction
	Replayed    bool
}

// SummaryRow aggregates the log for admin summaries.
type SummaryRow struct {
	Type   Type
	Status Status
	Count  int64
	Total  decimal.Decimal
}

// Discrepancy reports an account whose cached balance disagrees with the log.
type Discrepancy struct {
	AccountID string
	Cached    decimal.Decimal
	Computed  decimal.Decimal
}
