package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type memoryRecord struct {
	txn Transaction
	seq int64
}

type inMemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]Account
	txns      map[string]*memoryRecord
	byKey     map[string]string
	byAccount map[string][]string
	nextSeq   int64
	// rowLocks hold one token per account while a unit of work owns the row.
	rowLocks map[string]chan struct{}
	// reserved keys belong to uncommitted appends; closed on commit or rollback.
	reserved map[string]chan struct{}
	now      func() time.Time
}

// MemoryOption configures the in-memory store.
type MemoryOption func(*inMemoryStore)

// WithClock sets the clock used to stamp balance and status updates.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *inMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewInMemory creates a concurrency-safe in-memory store. Units of work hold
// per-account locks until they end and stage writes until commit, so they
// behave like row-locked database transactions.
func NewInMemory(opts ...MemoryOption) Store {
	s := &inMemoryStore{
		accounts:  make(map[string]Account),
		txns:      make(map[string]*memoryRecord),
		byKey:     make(map[string]string),
		byAccount: make(map[string][]string),
		rowLocks:  make(map[string]chan struct{}),
		reserved:  make(map[string]chan struct{}),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *inMemoryStore) WithinUnitOfWork(ctx context.Context, _ Isolation, fn func(ctx context.Context, uow UnitOfWork) error) error {
	uow := &memoryUnit{
		store:    s,
		held:     make(map[string]chan struct{}),
		accounts: make(map[string]Account),
		updated:  make(map[string]Transaction),
	}
	defer uow.release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, uow); err != nil {
		return err
	}
	return uow.commit()
}

func (s *inMemoryStore) CreateAccount(_ context.Context, account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("account %s already exists", account.ID)
	}
	s.accounts[account.ID] = account
	s.rowLocks[account.ID] = make(chan struct{}, 1)
	return nil
}

func (s *inMemoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return acct, nil
}

func (s *inMemoryStore) ListAccounts(_ context.Context) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *inMemoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txns[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return rec.txn, nil
}

func (s *inMemoryStore) FindByIdempotencyKey(_ context.Context, key string) (Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.txns[id].txn, nil
}

func (s *inMemoryStore) ListByAccount(_ context.Context, accountID string) ([]Transaction, error) {
	s.mu.RLock()
	ids := s.byAccount[accountID]
	recs := make([]*memoryRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, s.txns[id])
	}
	out := make([]Transaction, 0, len(recs))
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	for _, rec := range recs {
		out = append(out, rec.txn)
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *inMemoryStore) ListByStatus(_ context.Context, status Status) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make([]*memoryRecord, 0)
	for _, rec := range s.txns {
		if rec.txn.Status == status {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]Transaction, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.txn)
	}
	return out, nil
}

func (s *inMemoryStore) Summarize(_ context.Context) ([]SummaryRow, error) {
	type group struct {
		typ    Type
		status Status
	}
	s.mu.RLock()
	rows := make(map[group]*SummaryRow)
	for _, rec := range s.txns {
		g := group{rec.txn.Type, rec.txn.Status}
		row, ok := rows[g]
		if !ok {
			row = &SummaryRow{Type: g.typ, Status: g.status, Total: decimal.Zero}
			rows[g] = row
		}
		row.Count++
		row.Total = row.Total.Add(rec.txn.Amount)
	}
	s.mu.RUnlock()

	out := make([]SummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type == out[j].Type {
			return out[i].Status < out[j].Status
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

// memoryUnit is one unit of work against the in-memory store.
type memoryUnit struct {
	store    *inMemoryStore
	held     map[string]chan struct{}
	accounts map[string]Account
	appended []Transaction
	updated  map[string]Transaction
	reserved []string
}

func (u *memoryUnit) LockAccount(ctx context.Context, id string) (Account, error) {
	if acct, ok := u.accounts[id]; ok {
		return acct, nil
	}

	u.store.mu.RLock()
	lock, ok := u.store.rowLocks[id]
	u.store.mu.RUnlock()
	if !ok {
		return Account{}, ErrAccountNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return Account{}, ctx.Err()
	}
	u.held[id] = lock

	// re-read: the row may have changed while we waited
	u.store.mu.RLock()
	acct := u.store.accounts[id]
	u.store.mu.RUnlock()
	u.accounts[id] = acct
	return acct, nil
}

func (u *memoryUnit) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, floor bool) (Account, error) {
	acct, err := u.LockAccount(ctx, id)
	if err != nil {
		return Account{}, err
	}
	next := acct.Balance.Add(delta)
	// balances are never negative; floor only decides which error a caller expects
	if next.IsNegative() {
		if floor {
			return Account{}, ErrInsufficientFunds
		}
		return Account{}, fmt.Errorf("balance of %s would become negative: %w", id, ErrInsufficientFunds)
	}
	acct.Balance = next
	acct.UpdatedAt = u.store.now()
	u.accounts[id] = acct
	return acct, nil
}

func (u *memoryUnit) PendingDebits(_ context.Context, id string) (decimal.Decimal, error) {
	pending := decimal.Zero
	counts := func(txn Transaction) bool {
		return txn.Type == TypeWithdrawal && txn.Status == StatusProcessing && txn.SenderID == id
	}

	u.store.mu.RLock()
	for _, txnID := range u.store.byAccount[id] {
		txn := u.store.txns[txnID].txn
		if staged, ok := u.updated[txnID]; ok {
			txn = staged
		}
		if counts(txn) {
			pending = pending.Add(txn.Amount)
		}
	}
	u.store.mu.RUnlock()

	for _, txn := range u.appended {
		if counts(txn) {
			pending = pending.Add(txn.Amount)
		}
	}
	return pending, nil
}

func (u *memoryUnit) Append(ctx context.Context, txn Transaction) error {
	s := u.store
	for {
		for _, staged := range u.appended {
			if staged.IdempotencyKey == txn.IdempotencyKey {
				return ErrDuplicateIdempotencyKey
			}
		}

		s.mu.Lock()
		if _, exists := s.byKey[txn.IdempotencyKey]; exists {
			s.mu.Unlock()
			return ErrDuplicateIdempotencyKey
		}
		inflight, busy := s.reserved[txn.IdempotencyKey]
		if !busy {
			s.reserved[txn.IdempotencyKey] = make(chan struct{})
			s.mu.Unlock()
			u.reserved = append(u.reserved, txn.IdempotencyKey)
			u.appended = append(u.appended, txn)
			return nil
		}
		s.mu.Unlock()

		// like a unique index: wait for the other writer to commit or roll back
		select {
		case <-inflight:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (u *memoryUnit) UpdateStatus(_ context.Context, id string, status Status, reason string) (Transaction, error) {
	apply := func(txn Transaction) (Transaction, error) {
		if txn.Status.Terminal() {
			return Transaction{}, ErrTransactionTerminal
		}
		if !txn.Status.CanTransitionTo(status) {
			return Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, txn.Status, status)
		}
		txn.Status = status
		if status == StatusFailed {
			txn.FailureReason = reason
		}
		txn.UpdatedAt = u.store.now()
		return txn, nil
	}

	for i, staged := range u.appended {
		if staged.ID != id {
			continue
		}
		next, err := apply(staged)
		if err != nil {
			return Transaction{}, err
		}
		u.appended[i] = next
		return next, nil
	}

	current, ok := u.updated[id]
	if !ok {
		u.store.mu.RLock()
		rec, exists := u.store.txns[id]
		if exists {
			current = rec.txn
		}
		u.store.mu.RUnlock()
		if !exists {
			return Transaction{}, ErrTransactionNotFound
		}
	}
	next, err := apply(current)
	if err != nil {
		return Transaction{}, err
	}
	u.updated[id] = next
	return next, nil
}

func (u *memoryUnit) commit() error {
	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range u.updated {
		if s.txns[id].txn.Status.Terminal() {
			return ErrTransactionTerminal
		}
	}

	for id, acct := range u.accounts {
		s.accounts[id] = acct
	}
	for _, txn := range u.appended {
		s.nextSeq++
		s.txns[txn.ID] = &memoryRecord{txn: txn, seq: s.nextSeq}
		s.byKey[txn.IdempotencyKey] = txn.ID
		for _, accountID := range LockOrder(txn.SenderID, txn.ReceiverID) {
			if accountID != "" {
				s.byAccount[accountID] = append(s.byAccount[accountID], txn.ID)
			}
		}
	}
	for id, txn := range u.updated {
		s.txns[id].txn = txn
	}
	return nil
}

// release ends the unit of work: reservations are freed, then row locks.
func (u *memoryUnit) release() {
	s := u.store
	s.mu.Lock()
	for _, key := range u.reserved {
		if ch, ok := s.reserved[key]; ok {
			close(ch)
			delete(s.reserved, key)
		}
	}
	s.mu.Unlock()

	for _, lock := range u.held {
		<-lock
	}
}
