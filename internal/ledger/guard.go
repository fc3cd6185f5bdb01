package ledger

import (
	"context"
	"errors"
	"fmt"
)

// IdempotencyGuard turns repeated requests into no-ops by looking aside at the
// transaction log. The log's unique key constraint remains the final arbiter.
type IdempotencyGuard struct {
	store Store
}

// NewIdempotencyGuard builds a guard reading from the store's transaction log.
func NewIdempotencyGuard(store Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: store}
}

// Check returns the transaction already recorded under key, if any.
func (g *IdempotencyGuard) Check(ctx context.Context, key string) (Transaction, bool, error) {
	txn, err := g.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return Transaction{}, false, nil
		}
		return Transaction{}, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return txn, true, nil
}

// Resolve fetches the record that won a duplicate-key race.
func (g *IdempotencyGuard) Resolve(ctx context.Context, key string) (Result, error) {
	txn, found, err := g.Check(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found {
		// the winner rolled back; the caller may retry with the same key
		return Result{}, fmt.Errorf("resolve idempotency key %q: %w", key, ErrSerializationConflict)
	}
	return Result{Transaction: txn, Replayed: true}, nil
}
