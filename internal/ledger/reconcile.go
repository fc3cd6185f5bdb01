package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Reconcile recomputes every account balance from its COMPLETED log entries
// and reports the accounts whose cached balance disagrees. It only reads, and
// is meant for offline audits rather than the request path.
func (e *Engine) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var out []Discrepancy
	for _, acct := range accounts {
		computed, err := e.recompute(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		if !computed.Equal(acct.Balance) {
			out = append(out, Discrepancy{AccountID: acct.ID, Cached: acct.Balance, Computed: computed})
		}
	}

	e.logger.Info("reconciliation finished",
		slog.Int("accounts", len(accounts)),
		slog.Int("discrepancies", len(out)),
	)
	return out, nil
}

func (e *Engine) recompute(ctx context.Context, accountID string) (decimal.Decimal, error) {
	txns, err := e.store.ListByAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("list transactions for %s: %w", accountID, err)
	}
	balance := decimal.Zero
	for _, txn := range txns {
		balance = balance.Add(txn.DeltaFor(accountID))
	}
	return balance, nil
}
