package ledger

import (
	"strings"
	"time"

	"policyledger/pkg/evidencehash"

	"github.com/google/uuid"
)

// Draft is a validated append request waiting for its place in the chain.
type Draft struct {
	EventType  EventType
	EntityType string
	EntityID   string
	Payload    map[string]any
}

// PrepareAppend validates an append request before any lock is taken. The
// entity id is rewritten to its canonical lower-case form and the payload is
// normalized so the stored row reproduces the hash exactly.
func PrepareAppend(eventType EventType, entityType, entityID string, payload map[string]any) (Draft, error) {
	const op = "Append"
	if !eventType.Valid() {
		return Draft{}, E(KindValidation, op, ErrUnknownEventType)
	}
	id, err := uuid.Parse(strings.TrimSpace(entityID))
	if err != nil {
		return Draft{}, E(KindValidation, op, ErrInvalidEntityID)
	}
	p, err := evidencehash.NormalizePayload(payload)
	if err != nil {
		return Draft{}, E(KindValidation, op, err)
	}
	return Draft{
		EventType:  eventType,
		EntityType: strings.TrimSpace(entityType),
		EntityID:   id.String(),
		Payload:    p,
	}, nil
}

// Seal links the draft after prevHash at ts and computes its hash.
func (d Draft) Seal(ts time.Time, prevHash string) (Entry, error) {
	e := Entry{
		Timestamp:  ts.UTC(),
		EventType:  d.EventType,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Payload:    d.Payload,
		PrevHash:   prevHash,
	}
	h, err := HashOf(e)
	if err != nil {
		return Entry{}, E(KindValidation, "Append", err)
	}
	e.Hash = h
	return e, nil
}

// UpsertMode tells an AnchorRepository when an existing day row may be
// overwritten.
type UpsertMode int

const (
	UpsertAlways UpsertMode = iota
	UpsertIfUnpublished
	UpsertIfAbsent
)

// AnchorEntityID is the stable entity id used for a day's anchor_computed
// evidence entries.
func AnchorEntityID(day Day) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("daily_anchor:"+day.String())).String()
}
