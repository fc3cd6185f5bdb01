package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Settler moves withdrawn funds outside the system. Implementations may take
// arbitrary time and may decline.
type Settler interface {
	Settle(ctx context.Context, req SettlementRequest) (SettlementOutcome, error)
}

// SettlementRequest describes the funds to push to the external rail.
type SettlementRequest struct {
	TransactionID string
	AccountID     string
	Amount        decimal.Decimal
}

// SettlementOutcome captures the rail's decision.
type SettlementOutcome struct {
	Approved  bool
	Reference string
	Reason    string
}
