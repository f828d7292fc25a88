// Package anchoring computes daily Merkle anchors over the evidence chain and
// publishes them to an external notary.
package anchoring

import (
	"context"
	"fmt"
	"strings"

	"policyledger/pkg/ledger"
)

type EntrySource interface {
	EntriesForDay(ctx context.Context, day ledger.Day) ([]ledger.Entry, error)
	Append(ctx context.Context, eventType ledger.EventType, entityType, entityID string, payload map[string]any) (ledger.Entry, error)
}

type AnchorRepository interface {
	GetAnchor(ctx context.Context, day ledger.Day) (ledger.Anchor, error)
	UpsertAnchor(ctx context.Context, day ledger.Day, root string, metadata map[string]any, mode ledger.UpsertMode) (ledger.Anchor, bool, error)
	SetPublishedReceipt(ctx context.Context, day ledger.Day, root, receipt string) error
}

// Policy decides whether an existing day anchor may be recomputed.
type Policy string

const (
	PolicyOverwrite     Policy = "overwrite"
	PolicySealOnPublish Policy = "seal_on_publish"
	PolicyFinalizeOnce  Policy = "finalize_once"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicySealOnPublish, nil
	case PolicyOverwrite, PolicySealOnPublish, PolicyFinalizeOnce:
		return p, nil
	default:
		return "", fmt.Errorf("unknown anchor policy %q", s)
	}
}

type ComputeOptions struct {
	// Force overwrites a sealed anchor. The published receipt is kept.
	Force bool
}

// AnchorEntityType is the entity_type of anchor_computed entries.
const AnchorEntityType = "daily_anchor"

type Anchorer struct {
	Entries     EntrySource
	Anchors     AnchorRepository
	Policy      Policy
	RecordEvent bool
}

func NewAnchorer(entries EntrySource, anchors AnchorRepository, policy Policy, recordEvent bool) *Anchorer {
	return &Anchorer{Entries: entries, Anchors: anchors, Policy: policy, RecordEvent: recordEvent}
}

// ComputeDailyRoot builds the Merkle root over day's entry hashes in id order
// and upserts it as the day's anchor. ok is false, with no write, when the day
// has no entries. The day's own anchor_computed entries are not leaves, so
// recording the event never changes the root being recorded.
//
// A sealed anchor with the same root is returned unchanged. A sealed anchor
// with a different root fails with ErrAnchorSealed unless opts.Force is set.
//
// If the anchor was written but its anchor_computed entry could not be
// appended, the root is returned together with the append error.
func (a *Anchorer) ComputeDailyRoot(ctx context.Context, day ledger.Day, opts ComputeOptions) (root string, ok bool, err error) {
	const op = "ComputeDailyRoot"
	all, err := a.Entries.EntriesForDay(ctx, day)
	if err != nil {
		return "", false, err
	}
	entries := ledger.DayEntries(all, day)
	root, count, ok := ledger.DayRoot(entries, day)
	if !ok {
		return "", false, nil
	}

	prev, err := a.Anchors.GetAnchor(ctx, day)
	switch {
	case err == nil:
	case ledger.IsKind(err, ledger.KindNotFound):
		prev = ledger.Anchor{}
	default:
		return "", false, err
	}

	metadata := map[string]any{
		"entry_count":    count,
		"first_entry_id": entries[0].ID,
		"last_entry_id":  entries[len(entries)-1].ID,
	}
	stored, written, err := a.Anchors.UpsertAnchor(ctx, day, root, metadata, a.upsertMode(opts))
	if err != nil {
		return "", false, err
	}
	if !written {
		if stored.MerkleRoot == root {
			return root, true, nil
		}
		return "", false, ledger.E(ledger.KindConflict, op, ledger.ErrAnchorSealed)
	}

	if a.RecordEvent && prev.MerkleRoot != root {
		_, err := a.Entries.Append(ctx, ledger.EventAnchorComputed, AnchorEntityType, ledger.AnchorEntityID(day), map[string]any{
			"day":         day.String(),
			"merkle_root": root,
			"entry_count": count,
		})
		if err != nil {
			return root, true, err
		}
	}
	return root, true, nil
}

func (a *Anchorer) upsertMode(opts ComputeOptions) ledger.UpsertMode {
	if opts.Force {
		return ledger.UpsertAlways
	}
	switch a.Policy {
	case PolicyOverwrite:
		return ledger.UpsertAlways
	case PolicyFinalizeOnce:
		return ledger.UpsertIfAbsent
	default:
		return ledger.UpsertIfUnpublished
	}
}
