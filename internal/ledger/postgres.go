package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateUniqueViolation      = "23505"
	sqlstateCheckViolation       = "23514"

	idempotencyKeyConstraint = "ledger_transactions_idempotency_key_key"
	balanceConstraint        = "accounts_balance_non_negative"
)

const accountColumns = `id::text, balance, created_at, updated_at`

const transactionColumns = `id::text, type, status, amount, idempotency_key,
        COALESCE(sender_id::text, ''), COALESCE(receiver_id::text, ''),
        COALESCE(description, ''), COALESCE(failure_reason, ''),
        created_at, updated_at`

// PostgresStore persists accounts and the transaction log in PostgreSQL. The
// cached balance and the log entry that moves it are written in the same
// database transaction.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithinUnitOfWork runs fn inside a database transaction at the requested
// isolation level. Serialization failures and deadlocks surface as
// ErrSerializationConflict.
func (s *PostgresStore) WithinUnitOfWork(ctx context.Context, iso Isolation, fn func(ctx context.Context, uow UnitOfWork) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted}
	if iso == Serializable {
		opts.IsoLevel = pgx.Serializable
	}

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return mapPgError(fmt.Errorf("begin unit of work: %w", err))
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &postgresUnit{tx: tx}); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit unit of work: %w", err))
	}
	return nil
}

// CreateAccount inserts a new account row.
func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	id, err := uuid.Parse(account.ID)
	if err != nil {
		return fmt.Errorf("%w: account id: %v", ErrValidation, err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO accounts (id, balance, created_at, updated_at)
        VALUES ($1, $2, $3, $4)`, id, account.Balance, account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	return err
}

// GetAccount fetches an account without locking it.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

// ListAccounts returns all accounts ordered by creation.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Account, error) {
		return scanAccount(row)
	})
}

// GetTransaction fetches a transaction by id.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	txnID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id = $1`, txnID)
	return scanTransaction(row)
}

// FindByIdempotencyKey fetches the transaction recorded under key.
func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE idempotency_key = $1`, key)
	return scanTransaction(row)
}

// ListByAccount returns the account's transactions, newest first.
func (s *PostgresStore) ListByAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	id, err := uuid.Parse(accountID)
	if err != nil {
		return nil, ErrAccountNotFound
	}
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
        WHERE sender_id = $1 OR receiver_id = $1
        ORDER BY created_at DESC, id DESC`, id)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// ListByStatus returns transactions in the given status, oldest first.
func (s *PostgresStore) ListByStatus(ctx context.Context, status Status) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions
        WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// Summarize aggregates the log by type and status.
func (s *PostgresStore) Summarize(ctx context.Context) ([]SummaryRow, error) {
	rows, err := s.db.Query(ctx, `SELECT type, status, COUNT(*), COALESCE(SUM(amount), 0)
        FROM ledger_transactions GROUP BY type, status ORDER BY type, status`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SummaryRow, error) {
		var (
			typ, status string
			out         SummaryRow
		)
		if err := row.Scan(&typ, &status, &out.Count, &out.Total); err != nil {
			return SummaryRow{}, err
		}
		out.Type = Type(typ)
		out.Status = Status(status)
		return out, nil
	})
}

type postgresUnit struct {
	tx pgx.Tx
}

func (u *postgresUnit) LockAccount(ctx context.Context, id string) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	row := u.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	return scanAccount(row)
}

func (u *postgresUnit) AdjustBalance(ctx context.Context, id string, delta decimal.Decimal, floor bool) (Account, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return Account{}, ErrAccountNotFound
	}
	const query = `
        UPDATE accounts
        SET balance = balance + $2, updated_at = NOW()
        WHERE id = $1 AND (NOT $3 OR balance + $2 >= 0)
        RETURNING ` + accountColumns
	acct, err := scanAccount(u.tx.QueryRow(ctx, query, accountID, delta, floor))
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, err
	}

	var exists bool
	if err := u.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return Account{}, err
	}
	if exists {
		return Account{}, ErrInsufficientFunds
	}
	return Account{}, ErrAccountNotFound
}

func (u *postgresUnit) PendingDebits(ctx context.Context, id string) (decimal.Decimal, error) {
	accountID, err := uuid.Parse(id)
	if err != nil {
		return decimal.Zero, ErrAccountNotFound
	}
	const query = `
        SELECT COALESCE(SUM(amount), 0)
        FROM ledger_transactions
        WHERE sender_id = $1 AND type = $2 AND status = $3`
	var pending decimal.Decimal
	if err := u.tx.QueryRow(ctx, query, accountID, string(TypeWithdrawal), string(StatusProcessing)).Scan(&pending); err != nil {
		return decimal.Zero, err
	}
	return pending, nil
}

func (u *postgresUnit) Append(ctx context.Context, txn Transaction) error {
	id, err := uuid.Parse(txn.ID)
	if err != nil {
		return fmt.Errorf("%w: transaction id: %v", ErrValidation, err)
	}
	sender, err := nullableUUID(txn.SenderID)
	if err != nil {
		return ErrAccountNotFound
	}
	receiver, err := nullableUUID(txn.ReceiverID)
	if err != nil {
		return ErrAccountNotFound
	}

	_, err = u.tx.Exec(ctx, `INSERT INTO ledger_transactions
        (id, type, status, amount, idempotency_key, sender_id, receiver_id, description, failure_reason, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11)`,
		id, string(txn.Type), string(txn.Status), txn.Amount, txn.IdempotencyKey, sender, receiver,
		txn.Description, txn.FailureReason, txn.CreatedAt.UTC(), txn.UpdatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlstateUniqueViolation && pgErr.ConstraintName == idempotencyKeyConstraint {
		return ErrDuplicateIdempotencyKey
	}
	return err
}

func (u *postgresUnit) UpdateStatus(ctx context.Context, id string, status Status, reason string) (Transaction, error) {
	txnID, err := uuid.Parse(id)
	if err != nil {
		return Transaction{}, ErrTransactionNotFound
	}

	var current string
	if err := u.tx.QueryRow(ctx, `SELECT status FROM ledger_transactions WHERE id = $1 FOR UPDATE`, txnID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	from := Status(current)
	if from.Terminal() {
		return Transaction{}, ErrTransactionTerminal
	}
	if !from.CanTransitionTo(status) {
		return Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}
	if status != StatusFailed {
		reason = ""
	}

	row := u.tx.QueryRow(ctx, `UPDATE ledger_transactions
        SET status = $2, failure_reason = NULLIF($3, ''), updated_at = NOW()
        WHERE id = $1
        RETURNING `+transactionColumns, txnID, string(status), reason)
	return scanTransaction(row)
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		acct      Account
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&acct.ID, &acct.Balance, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	acct.CreatedAt = createdAt.UTC()
	acct.UpdatedAt = updatedAt.UTC()
	return acct, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		txn          Transaction
		typ, status  string
		created, upd time.Time
	)
	err := row.Scan(&txn.ID, &typ, &status, &txn.Amount, &txn.IdempotencyKey,
		&txn.SenderID, &txn.ReceiverID, &txn.Description, &txn.FailureReason, &created, &upd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	txn.Type = Type(typ)
	txn.Status = Status(status)
	txn.CreatedAt = created.UTC()
	txn.UpdatedAt = upd.UTC()
	return txn, nil
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		return scanTransaction(row)
	})
}

func nullableUUID(id string) (*uuid.UUID, error) {
	if id == "" {
		return nil, nil
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// mapPgError translates retryable SQLSTATEs into ErrSerializationConflict and
// the non-negative balance check into ErrInsufficientFunds.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case sqlstateSerializationFailure, sqlstateDeadlockDetected:
		return fmt.Errorf("%w: %s", ErrSerializationConflict, pgErr.Message)
	case sqlstateCheckViolation:
		if pgErr.ConstraintName == balanceConstraint {
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, pgErr.ConstraintName)
		}
	}
	return err
}
