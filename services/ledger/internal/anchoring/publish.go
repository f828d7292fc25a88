package anchoring

import (
	"context"
	"errors"
	"strings"

	"policyledger/pkg/ledger"
)

// Notary corroborates a day root outside the ledger and returns an opaque
// receipt.
type Notary interface {
	Notarize(ctx context.Context, day, root string) (string, error)
}

type Publisher struct {
	Enabled bool
	APIKey  string
	Notary  Notary
	Anchors AnchorRepository
}

var errNoNotary = errors.New("publishing enabled but no notary endpoint configured")

// Publish sends root for day to the notary and records the receipt on the
// day's anchor. ok is false, with no network call, when publishing is
// disabled. A notary failure is returned as KindIO wrapping the cause and
// leaves the anchor exactly as it was.
func (p *Publisher) Publish(ctx context.Context, root string, day ledger.Day) (receipt string, ok bool, err error) {
	const op = "Publish"
	if p == nil || !p.Enabled {
		return "", false, nil
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return "", false, ledger.E(ledger.KindConfiguration, op, ledger.ErrPublishCredentialMissing)
	}
	if p.Notary == nil {
		return "", false, ledger.E(ledger.KindConfiguration, op, errNoNotary)
	}

	anchor, err := p.Anchors.GetAnchor(ctx, day)
	if err != nil {
		return "", false, err
	}
	if anchor.MerkleRoot != root {
		return "", false, ledger.E(ledger.KindConflict, op, ledger.ErrAnchorRootChanged)
	}

	receipt, err = p.Notary.Notarize(ctx, day.String(), root)
	if err != nil {
		return "", false, ledger.E(ledger.KindIO, op, err)
	}
	if err := p.Anchors.SetPublishedReceipt(ctx, day, root, receipt); err != nil {
		return "", false, err
	}
	return receipt, true, nil
}
