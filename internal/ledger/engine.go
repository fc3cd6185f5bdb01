package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/microsave/ledger/internal/notification"
)

const (
	// DefaultMaxAttempts bounds units of work retried after serialization conflicts.
	DefaultMaxAttempts = 3
	// DefaultRetryBackoff is multiplied by the attempt number between retries.
	DefaultRetryBackoff = 50 * time.Millisecond
	// DefaultSettlementTimeout caps a single external settlement call.
	DefaultSettlementTimeout = 10 * time.Second
	// DefaultNotifyTimeout caps publishing an event after a commit.
	DefaultNotifyTimeout = 2 * time.Second
)

// Options tune the engine. Zero values fall back to the defaults above.
type Options struct {
	MaxAttempts       int
	RetryBackoff      time.Duration
	SettlementTimeout time.Duration
	NotifyTimeout     time.Duration
	Logger            *slog.Logger
	Metrics           *Metrics
	Notifier          notification.Notifier
	Now               func() time.Time
}

// Engine orchestrates deposits, transfers and withdrawals as atomic units of
// work over the account store and transaction log. It is the only writer of
// balances.
type Engine struct {
	store   Store
	guard   *IdempotencyGuard
	settler Settler
	opts    Options
	logger  *slog.Logger
}

// NewEngine wires an engine over store, using settler for withdrawals.
func NewEngine(store Store, settler Settler, opts Options) *Engine {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryBackoff < 0 {
		opts.RetryBackoff = 0
	} else if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.SettlementTimeout <= 0 {
		opts.SettlementTimeout = DefaultSettlementTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = DefaultNotifyTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:   store,
		guard:   NewIdempotencyGuard(store),
		settler: settler,
		opts:    opts,
		logger:  logger,
	}
}

// DepositInput captures the data needed to credit an account.
type DepositInput struct {
	AccountID      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// TransferInput captures the data needed to move funds between two accounts.
type TransferInput struct {
	SenderID       string
	ReceiverID     string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// WithdrawalInput captures the data needed to push funds out through settlement.
type WithdrawalInput struct {
	AccountID      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Description    string
}

// Deposit credits the account and records a COMPLETED deposit.
func (e *Engine) Deposit(ctx context.Context, in DepositInput) (Result, error) {
	started := time.Now()
	res, err := e.deposit(ctx, in)
	e.observe(TypeDeposit, res, err, started)
	return res, err
}

func (e *Engine) deposit(ctx context.Context, in DepositInput) (Result, error) {
	if err := validate(in.Amount, in.IdempotencyKey, field{"account_id", in.AccountID}); err != nil {
		return Result{}, err
	}
	if res, ok, err := e.replay(ctx, TypeDeposit, in.IdempotencyKey); err != nil || ok {
		return res, err
	}

	txn := e.newTransaction(TypeDeposit, StatusCompleted, in.Amount, in.IdempotencyKey, in.Description)
	txn.ReceiverID = in.AccountID

	err := e.run(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := uow.LockAccount(ctx, in.AccountID); err != nil {
			return err
		}
		if err := uow.Append(ctx, txn); err != nil {
			return err
		}
		_, err := uow.AdjustBalance(ctx, in.AccountID, txn.Amount, false)
		return err
	})
	if err != nil {
		return e.resolveDuplicate(ctx, TypeDeposit, in.IdempotencyKey, err)
	}

	e.notify(ctx, txn)
	return Result{Transaction: txn}, nil
}

// Transfer moves funds from sender to receiver and records a COMPLETED transfer.
func (e *Engine) Transfer(ctx context.Context, in TransferInput) (Result, error) {
	started := time.Now()
	res, err := e.transfer(ctx, in)
	e.observe(TypeTransfer, res, err, started)
	return res, err
}

func (e *Engine) transfer(ctx context.Context, in TransferInput) (Result, error) {
	if err := validate(in.Amount, in.IdempotencyKey,
		field{"sender_id", in.SenderID}, field{"receiver_id", in.ReceiverID}); err != nil {
		return Result{}, err
	}
	if in.SenderID == in.ReceiverID {
		return Result{}, ErrInvalidTransfer
	}
	if res, ok, err := e.replay(ctx, TypeTransfer, in.IdempotencyKey); err != nil || ok {
		return res, err
	}

	txn := e.newTransaction(TypeTransfer, StatusCompleted, in.Amount, in.IdempotencyKey, in.Description)
	txn.SenderID = in.SenderID
	txn.ReceiverID = in.ReceiverID

	err := e.run(ctx, Serializable, func(ctx context.Context, uow UnitOfWork) error {
		locked := make(map[string]Account, 2)
		for _, id := range LockOrder(in.SenderID, in.ReceiverID) {
			acct, err := uow.LockAccount(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = acct
		}
		// the key is claimed before the funds check so a late duplicate sees the winner
		if err := uow.Append(ctx, txn); err != nil {
			return err
		}
		if err := ensureAvailable(ctx, uow, locked[in.SenderID], txn.Amount); err != nil {
			return err
		}
		if _, err := uow.AdjustBalance(ctx, in.SenderID, txn.Amount.Neg(), true); err != nil {
			return err
		}
		_, err := uow.AdjustBalance(ctx, in.ReceiverID, txn.Amount, false)
		return err
	})
	if err != nil {
		return e.resolveDuplicate(ctx, TypeTransfer, in.IdempotencyKey, err)
	}

	e.notify(ctx, txn)
	return Result{Transaction: txn}, nil
}

// Withdraw records a PROCESSING withdrawal, settles it externally and
// finalises it as COMPLETED (balance debited) or FAILED (balance untouched).
// A declined settlement is returned as a FAILED record with a nil error.
func (e *Engine) Withdraw(ctx context.Context, in WithdrawalInput) (Result, error) {
	started := time.Now()
	res, err := e.withdraw(ctx, in)
	e.observe(TypeWithdrawal, res, err, started)
	return res, err
}

func (e *Engine) withdraw(ctx context.Context, in WithdrawalInput) (Result, error) {
	if err := validate(in.Amount, in.IdempotencyKey, field{"account_id", in.AccountID}); err != nil {
		return Result{}, err
	}
	if res, ok, err := e.replay(ctx, TypeWithdrawal, in.IdempotencyKey); err != nil || ok {
		return res, err
	}

	txn := e.newTransaction(TypeWithdrawal, StatusPending, in.Amount, in.IdempotencyKey, in.Description)
	txn.SenderID = in.AccountID

	var processing Transaction
	err := e.run(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		acct, err := uow.LockAccount(ctx, in.AccountID)
		if err != nil {
			return err
		}
		if err := uow.Append(ctx, txn); err != nil {
			return err
		}
		if err := ensureAvailable(ctx, uow, acct, txn.Amount); err != nil {
			return err
		}
		processing, err = uow.UpdateStatus(ctx, txn.ID, StatusProcessing, "")
		return err
	})
	if err != nil {
		return e.resolveDuplicate(ctx, TypeWithdrawal, in.IdempotencyKey, err)
	}

	outcome := e.settle(ctx, processing)

	// The PROCESSING record is durable; finish it even if the caller went away.
	final, err := e.finalizeWithdrawal(context.WithoutCancel(ctx), processing, outcome)
	if errors.Is(err, ErrTransactionTerminal) {
		// finalized concurrently, e.g. by an operator
		final, err = e.store.GetTransaction(context.WithoutCancel(ctx), processing.ID)
	}
	if err != nil {
		e.logger.Error("withdrawal left in processing",
			slog.String("transaction_id", processing.ID),
			slog.Bool("approved", outcome.Approved),
			slog.Any("error", err),
		)
		return Result{Transaction: processing}, fmt.Errorf("finalize withdrawal %s: %w", processing.ID, err)
	}
	return Result{Transaction: final}, nil
}

// ResolveWithdrawal finalises a withdrawal stuck in PROCESSING using an
// outcome obtained out of band, e.g. by an operator reconciling with the rail.
func (e *Engine) ResolveWithdrawal(ctx context.Context, id string, outcome SettlementOutcome) (Transaction, error) {
	txn, err := e.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if txn.Type != TypeWithdrawal {
		return Transaction{}, fmt.Errorf("%w: transaction %s is a %s", ErrValidation, id, txn.Type)
	}
	if txn.Status.Terminal() {
		return Transaction{}, ErrTransactionTerminal
	}
	if !outcome.Approved && outcome.Reason == "" {
		outcome.Reason = "declined by operator"
	}
	return e.finalizeWithdrawal(ctx, txn, outcome)
}

func (e *Engine) finalizeWithdrawal(ctx context.Context, txn Transaction, outcome SettlementOutcome) (Transaction, error) {
	var final Transaction
	err := e.run(ctx, ReadCommitted, func(ctx context.Context, uow UnitOfWork) error {
		if _, err := uow.LockAccount(ctx, txn.SenderID); err != nil {
			return err
		}
		if !outcome.Approved {
			var err error
			final, err = uow.UpdateStatus(ctx, txn.ID, StatusFailed, outcome.Reason)
			return err
		}
		var err error
		final, err = uow.UpdateStatus(ctx, txn.ID, StatusCompleted, "")
		if err != nil {
			return err
		}
		_, err = uow.AdjustBalance(ctx, txn.SenderID, txn.Amount.Neg(), true)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	e.logger.Info("withdrawal finalized",
		slog.String("transaction_id", final.ID),
		slog.String("status", string(final.Status)),
		slog.String("reference", outcome.Reference),
		slog.String("reason", final.FailureReason),
	)
	e.notify(ctx, final)
	return final, nil
}

type settleResult struct {
	outcome SettlementOutcome
	err     error
}

func (e *Engine) settle(ctx context.Context, txn Transaction) SettlementOutcome {
	settleCtx, cancel := context.WithTimeout(ctx, e.opts.SettlementTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan settleResult, 1)
	go func() {
		outcome, err := e.settler.Settle(settleCtx, SettlementRequest{
			TransactionID: txn.ID,
			AccountID:     txn.SenderID,
			Amount:        txn.Amount,
		})
		done <- settleResult{outcome: outcome, err: err}
	}()

	var res settleResult
	select {
	case res = <-done:
	case <-settleCtx.Done():
		res.err = settleCtx.Err()
	}
	// an answer that arrives after the deadline is not trusted
	if res.err == nil && settleCtx.Err() != nil {
		res.err = settleCtx.Err()
	}

	outcome := res.outcome
	result := "approved"
	switch {
	case res.err != nil && errors.Is(settleCtx.Err(), context.DeadlineExceeded):
		result = "timeout"
		outcome = SettlementOutcome{Reason: fmt.Sprintf("settlement timed out after %s", e.opts.SettlementTimeout)}
	case res.err != nil:
		result = "error"
		outcome = SettlementOutcome{Reason: "settlement error: " + res.err.Error()}
	case !outcome.Approved:
		result = "declined"
		if outcome.Reason == "" {
			outcome.Reason = "settlement declined"
		}
	}
	e.opts.Metrics.observeSettlement(result, time.Since(started))
	return outcome
}

// GetAccount returns the account by id.
func (e *Engine) GetAccount(ctx context.Context, id string) (Account, error) {
	return e.store.GetAccount(ctx, id)
}

// CreateAccount provisions an account with a zero balance.
func (e *Engine) CreateAccount(ctx context.Context) (Account, error) {
	now := e.opts.Now()
	acct := Account{
		ID:        uuid.NewString(),
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateAccount(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

// GetBalance returns the cached balance of the account.
func (e *Engine) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acct.Balance, nil
}

// ListTransactions returns every transaction the account took part in, newest first.
func (e *Engine) ListTransactions(ctx context.Context, accountID string) ([]Transaction, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListByAccount(ctx, accountID)
}

// GetTransaction returns a transaction by id.
func (e *Engine) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return e.store.GetTransaction(ctx, id)
}

// PendingWithdrawals lists withdrawals still PROCESSING that were created
// before now-olderThan.
func (e *Engine) PendingWithdrawals(ctx context.Context, olderThan time.Duration) ([]Transaction, error) {
	txns, err := e.store.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return nil, err
	}
	cutoff := e.opts.Now().Add(-olderThan)
	out := make([]Transaction, 0, len(txns))
	for _, txn := range txns {
		if txn.Type == TypeWithdrawal && !txn.CreatedAt.After(cutoff) {
			out = append(out, txn)
		}
	}
	return out, nil
}

// Summary aggregates the transaction log by type and status.
func (e *Engine) Summary(ctx context.Context) ([]SummaryRow, error) {
	return e.store.Summarize(ctx)
}

func (e *Engine) newTransaction(typ Type, status Status, amount decimal.Decimal, key, description string) Transaction {
	now := e.opts.Now()
	return Transaction{
		ID:             uuid.NewString(),
		Type:           typ,
		Status:         status,
		Amount:         amount.Round(Scale),
		IdempotencyKey: key,
		Description:    description,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (e *Engine) replay(ctx context.Context, typ Type, key string) (Result, bool, error) {
	txn, found, err := e.guard.Check(ctx, key)
	if err != nil || !found {
		return Result{}, false, err
	}
	if txn.Type != typ {
		return Result{}, false, fmt.Errorf("%w: idempotency key %q already used for a %s", ErrValidation, key, txn.Type)
	}
	e.opts.Metrics.observeReplay(typ)
	e.logger.Debug("idempotent replay", slog.String("type", string(typ)), slog.String("transaction_id", txn.ID))
	return Result{Transaction: txn, Replayed: true}, true, nil
}

// resolveDuplicate maps a lost duplicate-key race onto the winner's record.
func (e *Engine) resolveDuplicate(ctx context.Context, typ Type, key string, err error) (Result, error) {
	if !errors.Is(err, ErrDuplicateIdempotencyKey) {
		return Result{}, err
	}
	res, resolveErr := e.guard.Resolve(ctx, key)
	if resolveErr != nil {
		return Result{}, resolveErr
	}
	if res.Transaction.Type != typ {
		return Result{}, fmt.Errorf("%w: idempotency key %q already used for a %s", ErrValidation, key, res.Transaction.Type)
	}
	e.opts.Metrics.observeReplay(typ)
	return res, nil
}

// run executes fn as a unit of work, retrying serialization conflicts with
// linear backoff up to MaxAttempts.
func (e *Engine) run(ctx context.Context, iso Isolation, fn func(ctx context.Context, uow UnitOfWork) error) error {
	var err error
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		err = e.store.WithinUnitOfWork(ctx, iso, fn)
		if !errors.Is(err, ErrSerializationConflict) {
			return err
		}
		if attempt == e.opts.MaxAttempts {
			break
		}
		e.opts.Metrics.observeRetry()
		e.logger.Warn("retrying unit of work", slog.Int("attempt", attempt), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.opts.RetryBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("unit of work failed after %d attempts: %w", e.opts.MaxAttempts, err)
}

func (e *Engine) notify(ctx context.Context, txn Transaction) {
	if e.opts.Notifier == nil || !txn.Status.Terminal() {
		return
	}
	kind := notification.KindTransactionCompleted
	if txn.Status == StatusFailed {
		kind = notification.KindTransactionFailed
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NotifyTimeout)
	defer cancel()
	err := e.opts.Notifier.Send(ctx, notification.Message{
		Kind:          kind,
		TransactionID: txn.ID,
		Type:          string(txn.Type),
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		SenderID:      txn.SenderID,
		ReceiverID:    txn.ReceiverID,
		FailureReason: txn.FailureReason,
		OccurredAt:    txn.UpdatedAt,
	})
	if err != nil {
		e.logger.Warn("notification failed", slog.String("transaction_id", txn.ID), slog.Any("error", err))
	}
}

func (e *Engine) observe(typ Type, res Result, err error, started time.Time) {
	outcome := "created"
	switch {
	case err != nil:
		outcome = errorOutcome(err)
	case res.Replayed:
		outcome = "replayed"
	case res.Transaction.Status == StatusFailed:
		outcome = "failed"
	}
	e.opts.Metrics.observeOperation(typ, outcome, started)
}

func errorOutcome(err error) string {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidTransfer):
		return "invalid"
	case errors.Is(err, ErrAccountNotFound):
		return "not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrSerializationConflict):
		return "conflict"
	default:
		return "error"
	}
}

// ensureAvailable checks balance minus in-flight withdrawals covers amount.
func ensureAvailable(ctx context.Context, uow UnitOfWork, acct Account, amount decimal.Decimal) error {
	pending, err := uow.PendingDebits(ctx, acct.ID)
	if err != nil {
		return err
	}
	if acct.Balance.Sub(pending).LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

type field struct {
	name  string
	value string
}

func validate(amount decimal.Decimal, key string, ids ...field) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Round(Scale)) {
		return fmt.Errorf("%w: amount must have at most %d decimal places", ErrValidation, Scale)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	for _, f := range ids {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, f.name)
		}
	}
	return nil
}
