package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"policyledger/pkg/ledger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendN(t *testing.T, s *Store, n int) []ledger.Entry {
	t.Helper()
	out := make([]ledger.Entry, 0, n)
	for i := 0; i < n; i++ {
		e, err := s.Append(context.Background(), ledger.EventSubmissionReceived, "submission", uuid.NewString(), map[string]any{"n": i})
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestAppendLinksChain(t *testing.T) {
	s := New()
	entries := appendN(t, s, 10)

	assert.Equal(t, ledger.GenesisHash, entries[0].PrevHash)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Hash, entries[i].PrevHash, "entry %d", i)
		assert.Equal(t, entries[i-1].ID+1, entries[i].ID)
	}
	for _, e := range entries {
		h, err := ledger.HashOf(e)
		require.NoError(t, err)
		assert.Equal(t, e.Hash, h)
	}
}

func TestAppendRejectsUnknownEventTypeWithoutWriting(t *testing.T) {
	s := New()
	_, err := s.Append(context.Background(), "submission_deleted", "submission", uuid.NewString(), nil)
	require.Error(t, err)
	assert.Equal(t, ledger.KindValidation, ledger.KindOf(err))
	assert.ErrorIs(t, err, ledger.ErrUnknownEventType)

	all, err := s.Entries(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAppendCancelledLeavesNoTrace(t *testing.T) {
	s := New()
	appendN(t, s, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Append(ctx, ledger.EventVoteCast, "vote", uuid.NewString(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ledger.KindIO, ledger.KindOf(err))

	all, _ := s.Entries(context.Background(), 0, 0)
	assert.Len(t, all, 2)
	next := appendN(t, s, 1)[0]
	assert.Equal(t, int64(3), next.ID)
	assert.Equal(t, all[1].Hash, next.PrevHash)
}

func TestConcurrentAppendsFormSingleChain(t *testing.T) {
	for _, k := range []int{2, 17, 50} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			s := New()
			var wg sync.WaitGroup
			errs := make(chan error, k)
			for i := 0; i < k; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := s.Append(context.Background(), ledger.EventVoteCast, "vote", uuid.NewString(), map[string]any{"worker": i})
					errs <- err
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				require.NoError(t, err)
			}

			all, err := s.Entries(context.Background(), 0, 0)
			require.NoError(t, err)
			require.Len(t, all, k)
			seen := map[string]bool{}
			for _, e := range all {
				assert.False(t, seen[e.PrevHash], "prev_hash %s reused", e.PrevHash)
				seen[e.PrevHash] = true
			}
			res, err := s.VerifyChain(context.Background())
			require.NoError(t, err)
			assert.True(t, res.Valid)
			assert.Equal(t, k, res.Checked)
		})
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	mutations := map[string]func(e *ledger.Entry){
		"payload":     func(e *ledger.Entry) { e.Payload["n"] = 99 },
		"event_type":  func(e *ledger.Entry) { e.EventType = ledger.EventDisputeResolved },
		"entity_type": func(e *ledger.Entry) { e.EntityType = "cluster" },
		"timestamp":   func(e *ledger.Entry) { e.Timestamp = e.Timestamp.Add(-time.Second) },
		"prev_hash":   func(e *ledger.Entry) { e.PrevHash = ledger.GenesisHash },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			s := New()
			appendN(t, s, 5)
			s.mu.Lock()
			mutate(&s.entries[2])
			s.mu.Unlock()

			res, err := s.VerifyChain(context.Background())
			require.NoError(t, err)
			assert.False(t, res.Valid)
			require.NotNil(t, res.FailedIndex)
			assert.LessOrEqual(t, *res.FailedIndex, 2)
		})
	}
}

func TestReturnedEntriesAreCopies(t *testing.T) {
	s := New()
	e := appendN(t, s, 1)[0]
	e.Payload["n"] = "changed"
	res, _ := s.VerifyChain(context.Background())
	assert.True(t, res.Valid)
}

func TestEntriesPaging(t *testing.T) {
	s := New()
	appendN(t, s, 5)
	page, err := s.Entries(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, int64(4), page[1].ID)

	page, _ = s.Entries(context.Background(), 10, 2)
	assert.Empty(t, page)
}

func TestEntriesForDayUsesStoreClock(t *testing.T) {
	clock := time.Date(2026, 3, 1, 23, 59, 59, 999_000_000, time.UTC)
	s := New().WithClock(func() time.Time { return clock })
	appendN(t, s, 2)
	clock = clock.Add(time.Millisecond)
	appendN(t, s, 1)

	day, _ := ledger.ParseDay("2026-03-01")
	got, err := s.EntriesForDay(context.Background(), day)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	got, _ = s.EntriesForDay(context.Background(), ledger.DayOf(clock))
	assert.Len(t, got, 1)
}

func TestUpsertAnchorModes(t *testing.T) {
	ctx := context.Background()
	s := New()
	day, _ := ledger.ParseDay("2026-03-01")

	a, written, err := s.UpsertAnchor(ctx, day, "root-1", map[string]any{"entry_count": 1}, ledger.UpsertIfAbsent)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, "root-1", a.MerkleRoot)

	a, written, _ = s.UpsertAnchor(ctx, day, "root-2", map[string]any{"entry_count": 2}, ledger.UpsertIfAbsent)
	assert.False(t, written)
	assert.Equal(t, "root-1", a.MerkleRoot)

	a, written, _ = s.UpsertAnchor(ctx, day, "root-2", map[string]any{"entry_count": 2}, ledger.UpsertIfUnpublished)
	assert.True(t, written)
	assert.Equal(t, 2, a.EntryCount())

	require.NoError(t, s.SetPublishedReceipt(ctx, day, "root-2", "rcpt-1"))
	a, written, _ = s.UpsertAnchor(ctx, day, "root-3", map[string]any{"entry_count": 3}, ledger.UpsertIfUnpublished)
	assert.False(t, written)
	assert.Equal(t, "root-2", a.MerkleRoot)

	a, written, _ = s.UpsertAnchor(ctx, day, "root-3", map[string]any{"entry_count": 3}, ledger.UpsertAlways)
	assert.True(t, written)
	require.NotNil(t, a.PublishedReceipt)
	assert.Equal(t, "rcpt-1", *a.PublishedReceipt)
}

func TestSetPublishedReceiptChecksRoot(t *testing.T) {
	ctx := context.Background()
	s := New()
	day, _ := ledger.ParseDay("2026-03-01")
	err := s.SetPublishedReceipt(ctx, day, "root", "rcpt")
	assert.Equal(t, ledger.KindNotFound, ledger.KindOf(err))

	_, _, _ = s.UpsertAnchor(ctx, day, "root", map[string]any{"entry_count": 1}, ledger.UpsertAlways)
	err = s.SetPublishedReceipt(ctx, day, "other", "rcpt")
	assert.True(t, errors.Is(err, ledger.ErrAnchorRootChanged))

	a, _ := s.GetAnchor(ctx, day)
	assert.Nil(t, a.PublishedReceipt)
}
