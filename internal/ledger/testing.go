package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that credits an account in the in-memory store,
// creating it if needed. The credit is logged as a COMPLETED deposit so the
// balance still reconciles with the log.
func SeedBalance(s Store, accountID string, amount decimal.Decimal) {
	mem, ok := s.(*inMemoryStore)
	if !ok {
		return
	}
	mem.mu.Lock()
	defer mem.mu.Unlock()

	now := mem.now()
	acct, exists := mem.accounts[accountID]
	if !exists {
		acct = Account{ID: accountID, Balance: decimal.Zero, CreatedAt: now}
		mem.rowLocks[accountID] = make(chan struct{}, 1)
	}
	acct.Balance = acct.Balance.Add(amount)
	acct.UpdatedAt = now
	mem.accounts[accountID] = acct

	mem.nextSeq++
	txn := Transaction{
		ID:             uuid.NewString(),
		Type:           TypeDeposit,
		Status:         StatusCompleted,
		Amount:         amount,
		IdempotencyKey: fmt.Sprintf("seed:%s:%d", accountID, mem.nextSeq),
		ReceiverID:     accountID,
		Description:    "seed",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	mem.txns[txn.ID] = &memoryRecord{txn: txn, seq: mem.nextSeq}
	mem.byKey[txn.IdempotencyKey] = txn.ID
	mem.byAccount[accountID] = append(mem.byAccount[accountID], txn.ID)
}
