package anchoring

import (
	"context"
	"log/slog"
	"time"

	"policyledger/pkg/ledger"
)

// Scheduler computes and publishes yesterday's anchor once a day at RunAt
// past midnight UTC.
type Scheduler struct {
	Anchorer  *Anchorer
	Publisher *Publisher
	RunAt     time.Duration
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s *Scheduler) Run(ctx context.Context) error {
	for {
		now := s.now()
		next := NextRun(now, s.RunAt)
		s.logger().Info("anchor job scheduled", "next_run", next.Format(time.RFC3339))
		t := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		_ = s.RunOnce(ctx, ledger.DayOf(s.now()).Prev())
	}
}

// RunOnce anchors day, then publishes it and retries the previous day if
// that one is still unpublished. Errors are logged; the first one is
// returned.
func (s *Scheduler) RunOnce(ctx context.Context, day ledger.Day) error {
	log := s.logger().With("day", day.String())
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}

	root, ok, err := s.Anchorer.ComputeDailyRoot(ctx, day, ComputeOptions{})
	switch {
	case err != nil:
		log.Error("compute daily root failed", "error", err, "kind", string(ledger.KindOf(err)))
		keep(err)
	case !ok:
		log.Info("no entries to anchor")
	default:
		log.Info("daily root computed", "merkle_root", root)
	}

	for _, d := range []ledger.Day{day.Prev(), day} {
		if err := s.publishPending(ctx, d); err != nil {
			keep(err)
		}
	}
	return first
}

func (s *Scheduler) publishPending(ctx context.Context, day ledger.Day) error {
	if s.Publisher == nil || !s.Publisher.Enabled {
		return nil
	}
	log := s.logger().With("day", day.String())
	anchor, err := s.Anchorer.Anchors.GetAnchor(ctx, day)
	if ledger.IsKind(err, ledger.KindNotFound) {
		return nil
	}
	if err != nil {
		log.Error("load anchor failed", "error", err)
		return err
	}
	if anchor.Published() {
		return nil
	}
	receipt, _, err := s.Publisher.Publish(ctx, anchor.MerkleRoot, day)
	if err != nil {
		log.Warn("publish failed; will retry next run", "error", err, "kind", string(ledger.KindOf(err)))
		return err
	}
	log.Info("anchor published", "merkle_root", anchor.MerkleRoot, "receipt", receipt)
	return nil
}

// NextRun returns the first instant strictly after now that is offset past a
// UTC midnight.
func NextRun(now time.Time, offset time.Duration) time.Time {
	now = now.UTC()
	next := ledger.DayOf(now).Start().Add(offset)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
