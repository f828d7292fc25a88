package anchoring

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"policyledger/pkg/anchor/notary"
	"policyledger/pkg/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun(t *testing.T) {
	offset := 15 * time.Minute
	at := func(s string) time.Time {
		v, err := time.Parse(time.RFC3339, s)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, at("2026-03-01T00:15:00Z"), NextRun(at("2026-03-01T00:00:00Z"), offset))
	assert.Equal(t, at("2026-03-02T00:15:00Z"), NextRun(at("2026-03-01T00:15:00Z"), offset))
	assert.Equal(t, at("2026-03-02T00:15:00Z"), NextRun(at("2026-03-01T23:59:00Z"), offset))
}

func TestRunOnceRetriesUnpublishedPreviousDay(t *testing.T) {
	ctx := context.Background()
	s, c := newFixture(t)
	appendOn(t, s, 2)

	fn := &fakeNotary{status: http.StatusBadGateway}
	srv := fn.server(t)
	sched := &Scheduler{
		Anchorer:  NewAnchorer(s, s, PolicySealOnPublish, false),
		Publisher: &Publisher{Enabled: true, APIKey: "k", Notary: notary.New(srv.URL, "k", time.Second), Anchors: s},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	err := sched.RunOnce(ctx, day1)
	require.Error(t, err)
	anchor, err := s.GetAnchor(ctx, day1)
	require.NoError(t, err)
	assert.False(t, anchor.Published())
	root := anchor.MerkleRoot

	day2 := mustDay("2026-03-02")
	c.Set(day2.Start().Add(time.Hour))
	appendOn(t, s, 1)
	fn.respond(http.StatusOK, "late")

	require.NoError(t, sched.RunOnce(ctx, day2))
	for _, d := range []ledger.Day{day1, day2} {
		a, err := s.GetAnchor(ctx, d)
		require.NoError(t, err)
		assert.True(t, a.Published(), d.String())
	}
	anchor, err = s.GetAnchor(ctx, day1)
	require.NoError(t, err)
	assert.Equal(t, root, anchor.MerkleRoot)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newFixture(t)
	sched := &Scheduler{
		Anchorer: NewAnchorer(s, s, PolicySealOnPublish, false),
		RunAt:    time.Hour,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
