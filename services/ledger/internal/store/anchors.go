package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"policyledger/pkg/ledger"

	"github.com/jackc/pgx/v5"
)

const selectAnchor = `SELECT day,merkle_root,published_receipt,metadata,created_at FROM daily_anchors`

func (s *Store) GetAnchor(ctx context.Context, day ledger.Day) (ledger.Anchor, error) {
	row := s.DB.QueryRow(ctx, selectAnchor+` WHERE day=$1`, day.Start())
	a, err := scanAnchor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Anchor{}, ledger.E(ledger.KindNotFound, "GetAnchor", ledger.ErrAnchorNotFound)
		}
		return ledger.Anchor{}, ioErr("GetAnchor", err)
	}
	return a, nil
}

func (s *Store) ListAnchors(ctx context.Context) ([]ledger.Anchor, error) {
	rows, err := s.DB.Query(ctx, selectAnchor+` ORDER BY day ASC`)
	if err != nil {
		return nil, ioErr("ListAnchors", err)
	}
	defer rows.Close()
	out := []ledger.Anchor{}
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, ioErr("ListAnchors", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, ioErr("ListAnchors", err)
	}
	return out, nil
}

// UpsertAnchor writes the day's root and metadata. published_receipt is never
// touched here. When mode forbids overwriting the existing row, that row is
// returned with written=false.
func (s *Store) UpsertAnchor(ctx context.Context, day ledger.Day, root string, metadata map[string]any, mode ledger.UpsertMode) (ledger.Anchor, bool, error) {
	const op = "UpsertAnchor"
	b, err := json.Marshal(metadata)
	if err != nil {
		return ledger.Anchor{}, false, ledger.E(ledger.KindValidation, op, err)
	}

	var conflict string
	switch mode {
	case ledger.UpsertIfAbsent:
		conflict = `DO NOTHING`
	case ledger.UpsertIfUnpublished:
		conflict = `DO UPDATE SET merkle_root=EXCLUDED.merkle_root, metadata=EXCLUDED.metadata
WHERE daily_anchors.published_receipt IS NULL`
	default:
		conflict = `DO UPDATE SET merkle_root=EXCLUDED.merkle_root, metadata=EXCLUDED.metadata`
	}
	row := s.DB.QueryRow(ctx, `
INSERT INTO daily_anchors(day,merkle_root,metadata)
VALUES($1,$2,$3::jsonb)
ON CONFLICT (day) `+conflict+`
RETURNING day,merkle_root,published_receipt,metadata,created_at
`, day.Start(), root, string(b))
	a, err := scanAnchor(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return ledger.Anchor{}, false, ioErr(op, err)
	}
	existing, err := s.GetAnchor(ctx, day)
	if err != nil {
		return ledger.Anchor{}, false, err
	}
	return existing, false, nil
}

// SetPublishedReceipt records a notarization receipt, but only while the
// stored root is still the one that was notarized.
func (s *Store) SetPublishedReceipt(ctx context.Context, day ledger.Day, root, receipt string) error {
	const op = "SetPublishedReceipt"
	tag, err := s.DB.Exec(ctx, `UPDATE daily_anchors SET published_receipt=$3 WHERE day=$1 AND merkle_root=$2`, day.Start(), root, receipt)
	if err != nil {
		return ioErr(op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetAnchor(ctx, day); err != nil {
		return err
	}
	return ledger.E(ledger.KindConflict, op, ledger.ErrAnchorRootChanged)
}

func scanAnchor(row pgx.Row) (ledger.Anchor, error) {
	var (
		a        ledger.Anchor
		day      time.Time
		metadata []byte
	)
	if err := row.Scan(&day, &a.MerkleRoot, &a.PublishedReceipt, &metadata, &a.CreatedAt); err != nil {
		return ledger.Anchor{}, err
	}
	a.Day = ledger.DayOf(day)
	a.CreatedAt = a.CreatedAt.UTC()
	m, err := decodePayload(metadata)
	if err != nil {
		return ledger.Anchor{}, err
	}
	a.Metadata = m
	return a, nil
}
