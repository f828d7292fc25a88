package store

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"time"

	"policyledger/pkg/ledger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const verifyPageSize = 1000

type Store struct {
	DB   *pgxpool.Pool
	Gate ChainGate
	now  func() time.Time
}

func New(db *pgxpool.Pool) *Store {
	return &Store{DB: db, Gate: AdvisoryGate{Key: DefaultChainLockKey}, now: ledger.Now}
}

// EnsureSchema applies the embedded schema. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.Exec(ctx, schemaSQL)
	return err
}

// Append is the only way evidence rows are created. The gate, tail read,
// hash computation and insert share one transaction; nothing else happens
// while the gate is held. Ids are assigned from the tail under the gate, so
// a failed append leaves no gap.
func (s *Store) Append(ctx context.Context, eventType ledger.EventType, entityType, entityID string, payload map[string]any) (ledger.Entry, error) {
	const op = "Append"
	d, err := ledger.PrepareAppend(eventType, entityType, entityID, payload)
	if err != nil {
		return ledger.Entry{}, err
	}
	payloadJSON, err := json.Marshal(d.Payload)
	if err != nil {
		return ledger.Entry{}, ledger.E(ledger.KindValidation, op, err)
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return ledger.Entry{}, ioErr(op, err)
	}
	defer tx.Rollback(ctx)

	// Hash what jsonb will store, not what the caller sent. This does not
	// depend on the tail, so it stays outside the gate.
	var stored []byte
	if err := tx.QueryRow(ctx, `SELECT $1::jsonb`, string(payloadJSON)).Scan(&stored); err != nil {
		return ledger.Entry{}, classify(op, err)
	}
	if d.Payload, err = decodePayload(stored); err != nil {
		return ledger.Entry{}, ledger.E(ledger.KindValidation, op, err)
	}

	if err := s.Gate.Acquire(ctx, tx); err != nil {
		return ledger.Entry{}, ioErr(op, err)
	}

	var tailID int64
	prev := ledger.GenesisHash
	err = tx.QueryRow(ctx, `SELECT id,hash FROM evidence_log ORDER BY id DESC LIMIT 1`).Scan(&tailID, &prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, ioErr(op, err)
	}

	e, err := d.Seal(s.now(), prev)
	if err != nil {
		return ledger.Entry{}, err
	}
	e.ID = tailID + 1
	_, err = tx.Exec(ctx, `
INSERT INTO evidence_log(id,timestamp,event_type,entity_type,entity_id,payload,hash,prev_hash)
VALUES($1,$2,$3,$4,$5,$6::jsonb,$7,$8)
`, e.ID, e.Timestamp, string(e.EventType), e.EntityType, e.EntityID, string(stored), e.Hash, e.PrevHash)
	if err != nil {
		return ledger.Entry{}, classify(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ledger.Entry{}, classify(op, err)
	}
	return e, nil
}

// Entries returns up to limit entries with id > afterID in id order. A
// non-positive limit returns everything.
func (s *Store) Entries(ctx context.Context, afterID int64, limit int) ([]ledger.Entry, error) {
	return listEntries(ctx, s.DB, afterID, limit)
}

func (s *Store) EntriesForDay(ctx context.Context, day ledger.Day) ([]ledger.Entry, error) {
	rows, err := s.DB.Query(ctx, selectEntries+`
WHERE timestamp >= $1 AND timestamp < $2
ORDER BY id ASC`, day.Start(), day.End())
	if err != nil {
		return nil, ioErr("EntriesForDay", err)
	}
	return scanEntries(rows)
}

// VerifyChain walks the whole chain in id order inside one repeatable-read
// snapshot, a page at a time.
func (s *Store) VerifyChain(ctx context.Context) (ledger.VerifyResult, error) {
	const op = "VerifyChain"
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return ledger.VerifyResult{}, ioErr(op, err)
	}
	defer tx.Rollback(ctx)

	v := ledger.NewVerifier()
	var after int64
	for {
		page, err := listEntries(ctx, tx, after, verifyPageSize)
		if err != nil {
			return ledger.VerifyResult{}, err
		}
		for _, e := range page {
			if !v.Add(e) {
				return v.Result(), nil
			}
			after = e.ID
		}
		if len(page) < verifyPageSize {
			return v.Result(), nil
		}
	}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const selectEntries = `
SELECT id,timestamp,event_type,entity_type,entity_id::text,payload,hash,prev_hash
FROM evidence_log`

func listEntries(ctx context.Context, q querier, afterID int64, limit int) ([]ledger.Entry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = q.Query(ctx, selectEntries+` WHERE id > $1 ORDER BY id ASC LIMIT $2`, afterID, limit)
	} else {
		rows, err = q.Query(ctx, selectEntries+` WHERE id > $1 ORDER BY id ASC`, afterID)
	}
	if err != nil {
		return nil, ioErr("Entries", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows pgx.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	out := []ledger.Entry{}
	for rows.Next() {
		var (
			e         ledger.Entry
			eventType string
			payload   []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &e.EntityType, &e.EntityID, &payload, &e.Hash, &e.PrevHash); err != nil {
			return nil, ioErr("Entries", err)
		}
		p, err := decodePayload(payload)
		if err != nil {
			return nil, ioErr("Entries", err)
		}
		e.EventType = ledger.EventType(eventType)
		e.Timestamp = e.Timestamp.UTC()
		e.Payload = p
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("Entries", err)
	}
	return out, nil
}

func decodePayload(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

const (
	sqlStateUniqueViolation = "23505"
	sqlStateChainFork       = "EV001"
	sqlStateImmutable       = "EV002"
)

// classify maps guard-trigger and constraint failures onto ledger kinds.
// Chain integrity failures are surfaced, never retried here.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case sqlStateChainFork, sqlStateUniqueViolation:
			return ledger.E(ledger.KindChainIntegrity, op, errors.Join(ledger.ErrChainFork, err))
		case sqlStateImmutable:
			return ledger.E(ledger.KindChainIntegrity, op, errors.Join(ledger.ErrImmutable, err))
		}
	}
	return ioErr(op, err)
}

// ioErr wraps storage failures, cancellation included, as KindIO. The cause
// stays reachable through errors.Is.
func ioErr(op string, err error) error {
	return ledger.E(ledger.KindIO, op, err)
}
