// Package memstore is a single-process evidence store with the same chain
// semantics as the Postgres store. The mutex is the chain gate: it covers the
// tail read, hash computation and insert of every append.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"policyledger/pkg/evidencehash"
	"policyledger/pkg/ledger"
)

type Store struct {
	mu      sync.Mutex
	entries []ledger.Entry
	anchors map[string]ledger.Anchor
	now     func() time.Time
}

func New() *Store {
	return &Store{anchors: map[string]ledger.Anchor{}, now: ledger.Now}
}

// WithClock replaces the store clock. The returned time is truncated to
// milliseconds like the real clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = func() time.Time { return now().UTC().Truncate(time.Millisecond) }
	return s
}

func (s *Store) Append(ctx context.Context, eventType ledger.EventType, entityType, entityID string, payload map[string]any) (ledger.Entry, error) {
	d, err := ledger.PrepareAppend(eventType, entityType, entityID, payload)
	if err != nil {
		return ledger.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ledger.GenesisHash
	if n := len(s.entries); n > 0 {
		prev = s.entries[n-1].Hash
	}
	e, err := d.Seal(s.now(), prev)
	if err != nil {
		return ledger.Entry{}, err
	}
	if err := ctx.Err(); err != nil {
		return ledger.Entry{}, ledger.E(ledger.KindIO, "Append", err)
	}
	e.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, e)
	return clone(e), nil
}

// Entries returns up to limit entries with id > afterID in id order. A
// non-positive limit returns everything.
func (s *Store) Entries(ctx context.Context, afterID int64, limit int) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := int(afterID)
	if start < 0 {
		start = 0
	}
	if start > len(s.entries) {
		start = len(s.entries)
	}
	end := len(s.entries)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]ledger.Entry, 0, end-start)
	for _, e := range s.entries[start:end] {
		out = append(out, clone(e))
	}
	return out, nil
}

func (s *Store) EntriesForDay(ctx context.Context, day ledger.Day) ([]ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range s.entries {
		if day.Contains(e.Timestamp) {
			out = append(out, clone(e))
		}
	}
	return out, nil
}

func (s *Store) VerifyChain(ctx context.Context) (ledger.VerifyResult, error) {
	entries, err := s.Entries(ctx, 0, 0)
	if err != nil {
		return ledger.VerifyResult{}, err
	}
	return ledger.VerifyEntries(entries), nil
}

func (s *Store) GetAnchor(ctx context.Context, day ledger.Day) (ledger.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[day.String()]
	if !ok {
		return ledger.Anchor{}, ledger.E(ledger.KindNotFound, "GetAnchor", ledger.ErrAnchorNotFound)
	}
	return cloneAnchor(a), nil
}

func (s *Store) ListAnchors(ctx context.Context) ([]ledger.Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Anchor, 0, len(s.anchors))
	for _, a := range s.anchors {
		out = append(out, cloneAnchor(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Start().Before(out[j].Day.Start()) })
	return out, nil
}

func (s *Store) UpsertAnchor(ctx context.Context, day ledger.Day, root string, metadata map[string]any, mode ledger.UpsertMode) (ledger.Anchor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := day.String()
	existing, exists := s.anchors[key]
	if exists {
		if mode == ledger.UpsertIfAbsent || (mode == ledger.UpsertIfUnpublished && existing.Published()) {
			return cloneAnchor(existing), false, nil
		}
		existing.MerkleRoot = root
		existing.Metadata = metadata
		s.anchors[key] = existing
		return cloneAnchor(existing), true, nil
	}
	a := ledger.Anchor{Day: day, MerkleRoot: root, Metadata: metadata, CreatedAt: s.now()}
	s.anchors[key] = a
	return cloneAnchor(a), true, nil
}

func (s *Store) SetPublishedReceipt(ctx context.Context, day ledger.Day, root, receipt string) error {
	const op = "SetPublishedReceipt"
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[day.String()]
	if !ok {
		return ledger.E(ledger.KindNotFound, op, ledger.ErrAnchorNotFound)
	}
	if a.MerkleRoot != root {
		return ledger.E(ledger.KindConflict, op, ledger.ErrAnchorRootChanged)
	}
	a.PublishedReceipt = &receipt
	s.anchors[day.String()] = a
	return nil
}

func clone(e ledger.Entry) ledger.Entry {
	p, _ := evidencehash.NormalizePayload(e.Payload)
	e.Payload = p
	return e
}

func cloneAnchor(a ledger.Anchor) ledger.Anchor {
	if a.PublishedReceipt != nil {
		r := *a.PublishedReceipt
		a.PublishedReceipt = &r
	}
	if a.Metadata != nil {
		m := make(map[string]any, len(a.Metadata))
		for k, v := range a.Metadata {
			m[k] = v
		}
		a.Metadata = m
	}
	return a
}
