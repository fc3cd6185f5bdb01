package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newMemoryAccount(t *testing.T, s Store, balance string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	if err := s.CreateAccount(context.Background(), Account{ID: id, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		SeedBalance(s, id, amount)
	}
	return id
}

func memoryTxn(typ Type, status Status, key, sender, receiver, amount string) Transaction {
	now := time.Now().UTC()
	return Transaction{
		ID:             uuid.NewString(),
		Type:           typ,
		Status:         status,
		Amount:         decimal.RequireFromString(amount),
		IdempotencyKey: key,
		SenderID:       sender,
		ReceiverID:     receiver,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInMemory_UnitOfWorkRollsBackOnError(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acct := newMemoryAccount(t, s, "10.00")

	boom := errors.New("boom")
	err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := uow.AdjustBalance(ctx, acct, decimal.RequireFromString("5.00"), false); err != nil {
			return err
		}
		if err := uow.Append(ctx, memoryTxn(TypeDeposit, StatusCompleted, "rollback", "", acct, "5.00")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, _ := s.GetAccount(ctx, acct)
	if !got.Balance.Equal(decimal.RequireFromString("10.00")) {
		t.Fatalf("expected balance 10.00 after rollback, got %s", got.Balance)
	}
	if _, err := s.FindByIdempotencyKey(ctx, "rollback"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected rolled back append to be invisible, got %v", err)
	}
}

func TestInMemory_DuplicateKeyRejected(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acct := newMemoryAccount(t, s, "0")

	appendOnce := func() error {
		return s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
			return uow.Append(ctx, memoryTxn(TypeDeposit, StatusCompleted, "dup", "", acct, "1.00"))
		})
	}
	if err := appendOnce(); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := appendOnce(); !errors.Is(err, ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestInMemory_AdjustBalanceFloor(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acct := newMemoryAccount(t, s, "3.00")

	err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		_, err := uow.AdjustBalance(ctx, acct, decimal.RequireFromString("-3.01"), true)
		return err
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestInMemory_UpdateStatusStateMachine(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acct := newMemoryAccount(t, s, "0")
	txn := memoryTxn(TypeWithdrawal, StatusPending, "w1", acct, "", "1.00")

	err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		return uow.Append(ctx, txn)
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	update := func(status Status, reason string) (Transaction, error) {
		var out Transaction
		err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
			var err error
			out, err = uow.UpdateStatus(ctx, txn.ID, status, reason)
			return err
		})
		return out, err
	}

	if _, err := update(StatusPending, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := update(StatusProcessing, ""); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	failed, err := update(StatusFailed, "rail down")
	if err != nil {
		t.Fatalf("processing -> failed: %v", err)
	}
	if failed.FailureReason != "rail down" {
		t.Fatalf("expected failure reason to be kept, got %q", failed.FailureReason)
	}
	if _, err := update(StatusCompleted, ""); !errors.Is(err, ErrTransactionTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
}

func TestInMemory_ListByAccountNewestFirst(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	a := newMemoryAccount(t, s, "0")
	b := newMemoryAccount(t, s, "0")

	keys := []string{"k-1", "k-2", "k-3"}
	for _, key := range keys {
		err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
			return uow.Append(ctx, memoryTxn(TypeTransfer, StatusCompleted, key, a, b, "1.00"))
		})
		if err != nil {
			t.Fatalf("append %s: %v", key, err)
		}
	}

	for _, id := range []string{a, b} {
		txns, err := s.ListByAccount(ctx, id)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(txns) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(txns))
		}
		if txns[0].IdempotencyKey != "k-3" || txns[2].IdempotencyKey != "k-1" {
			t.Fatalf("expected newest first, got %s..%s", txns[0].IdempotencyKey, txns[2].IdempotencyKey)
		}
	}
}

func TestInMemory_LockAccountHonoursContext(t *testing.T) {
	s := NewInMemory()
	acct := newMemoryAccount(t, s, "0")

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinUnitOfWork(context.Background(), ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
			if _, err := uow.LockAccount(ctx, acct); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithinUnitOfWork(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		_, err := uow.LockAccount(ctx, acct)
		return err
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while row is locked, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestInMemory_SummarizeGroupsByTypeAndStatus(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	acct := newMemoryAccount(t, s, "5.00")
	SeedBalance(s, acct, decimal.RequireFromString("2.50"))

	rows, err := s.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one group, got %d", len(rows))
	}
	if rows[0].Type != TypeDeposit || rows[0].Status != StatusCompleted || rows[0].Count != 2 {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if !rows[0].Total.Equal(decimal.RequireFromString("7.50")) {
		t.Fatalf("expected total 7.50, got %s", rows[0].Total)
	}
}
