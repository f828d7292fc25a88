package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// DefaultChainLockKey is the advisory lock key of the evidence chain
// ("evidence" as ASCII).
const DefaultChainLockKey int64 = 0x65766964656e6365

// ChainGate serializes appends across every process sharing the database.
// Acquire must block until the caller holds the chain exclusively for the
// rest of tx.
type ChainGate interface {
	Acquire(ctx context.Context, tx pgx.Tx) error
}

// AdvisoryGate takes a transaction-scoped advisory lock. It is released by
// commit or rollback, so a cancelled append cannot leak it.
type AdvisoryGate struct {
	Key int64
}

func (g AdvisoryGate) Acquire(ctx context.Context, tx pgx.Tx) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, g.Key)
	return err
}
