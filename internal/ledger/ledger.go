package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks malformed or out-of-range input. It is never retried.
	ErrValidation = errors.New("validation failed")

	// ErrAccountNotFound occurs when a referenced account id does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidTransfer rejects a transfer whose sender and receiver are the same account.
	ErrInvalidTransfer = errors.New("invalid transfer: sender and receiver must differ")

	// ErrDuplicateIdempotencyKey is returned by the transaction log when the key
	// already exists. The engine resolves it into a replay of the winning record.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrSerializationConflict reports transient contention in the store. Units of
	// work failing with it are safe to retry from the start.
	ErrSerializationConflict = errors.New("serialization conflict")

	// ErrTransactionNotFound occurs when no transaction matches an id or key.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrTransactionTerminal rejects a status update on a COMPLETED or FAILED record.
	ErrTransactionTerminal = errors.New("transaction already in terminal state")

	// ErrInvalidTransition rejects a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Isolation selects the concurrency-control level of a unit of work.
type Isolation int

const (
	// ReadCommitted relies on explicit row locks for correctness.
	ReadCommitted Isolation = iota
	// Serializable prevents phantoms and write skew across all rows touched.
	Serializable
)

// AccountStore is the account view available inside a unit of work.
type AccountStore interface {
	// LockAccount acquires an exclusive lock on the account held until the unit
	// of work commits or rolls back, and returns its current state.
	LockAccount(ctx context.Context, id string) (Account, error)
	// AdjustBalance applies balance += delta. With floor set the call fails with
	// ErrInsufficientFunds instead of producing a negative balance.
	AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, floor bool) (Account, error)
	// PendingDebits sums PROCESSING withdrawals drawn on the account.
	PendingDebits(ctx context.Context, id string) (decimal.Decimal, error)
}

// TransactionLog is the append-only log view available inside a unit of work.
type TransactionLog interface {
	Append(ctx context.Context, txn Transaction) error
	UpdateStatus(ctx context.Context, id string, status Status, reason string) (Transaction, error)
}

// UnitOfWork groups reads and writes that commit or roll back together.
type UnitOfWork interface {
	AccountStore
	TransactionLog
}

// Store defines the contract implemented by durable backends (memory, Postgres).
type Store interface {
	// WithinUnitOfWork runs fn in a single atomic unit of work. Any error
	// returned by fn rolls back every write made through the UnitOfWork.
	WithinUnitOfWork(ctx context.Context, iso Isolation, fn func(ctx context.Context, uow UnitOfWork) error) error

	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, id string) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	GetTransaction(ctx context.Context, id string) (Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	// ListByAccount returns transactions where the account is sender or
	// receiver, newest first.
	ListByAccount(ctx context.Context, accountID string) ([]Transaction, error)
	ListByStatus(ctx context.Context, status Status) ([]Transaction, error)
	Summarize(ctx context.Context) ([]SummaryRow, error)
}
