package ledger

import (
	"strings"
	"time"
)

// GenesisHash is the prev_hash of the first entry ever appended.
const GenesisHash = "genesis"

// TimestampLayout is the UTC, millisecond-precision form an entry timestamp
// takes inside its canonical material.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type EventType string

const (
	EventSubmissionReceived       EventType = "submission_received"
	EventCandidateCreated         EventType = "candidate_created"
	EventClusterCreated           EventType = "cluster_created"
	EventClusterUpdated           EventType = "cluster_updated"
	EventPolicyEndorsed           EventType = "policy_endorsed"
	EventVoteCast                 EventType = "vote_cast"
	EventCycleOpened              EventType = "cycle_opened"
	EventCycleClosed              EventType = "cycle_closed"
	EventUserVerified             EventType = "user_verified"
	EventDisputeEscalated         EventType = "dispute_escalated"
	EventDisputeResolved          EventType = "dispute_resolved"
	EventDisputeMetricsRecorded   EventType = "dispute_metrics_recorded"
	EventDisputeTuningRecommended EventType = "dispute_tuning_recommended"
	EventAnchorComputed           EventType = "anchor_computed"
)

var eventTypes = map[EventType]struct{}{
	EventSubmissionReceived:       {},
	EventCandidateCreated:         {},
	EventClusterCreated:           {},
	EventClusterUpdated:           {},
	EventPolicyEndorsed:           {},
	EventVoteCast:                 {},
	EventCycleOpened:              {},
	EventCycleClosed:              {},
	EventUserVerified:             {},
	EventDisputeEscalated:         {},
	EventDisputeResolved:          {},
	EventDisputeMetricsRecorded:   {},
	EventDisputeTuningRecommended: {},
	EventAnchorComputed:           {},
}

func (t EventType) Valid() bool {
	_, ok := eventTypes[t]
	return ok
}

// EventTypes returns the closed vocabulary in a stable order.
func EventTypes() []EventType {
	return []EventType{
		EventSubmissionReceived, EventCandidateCreated, EventClusterCreated, EventClusterUpdated,
		EventPolicyEndorsed, EventVoteCast, EventCycleOpened, EventCycleClosed, EventUserVerified,
		EventDisputeEscalated, EventDisputeResolved, EventDisputeMetricsRecorded,
		EventDisputeTuningRecommended, EventAnchorComputed,
	}
}

// Entry is one immutable, hash-chained evidence record.
type Entry struct {
	ID         int64          `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	EventType  EventType      `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
	Hash       string         `json:"hash"`
	PrevHash   string         `json:"prev_hash"`
}

// FormatTimestamp renders t the way it is hashed: UTC, milliseconds, "Z".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Now is the store clock: current UTC time truncated to milliseconds, so the
// persisted timestamp always reproduces the hashed one.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Anchor is the persisted Merkle root of one UTC day.
type Anchor struct {
	Day              Day            `json:"day"`
	MerkleRoot       string         `json:"merkle_root"`
	PublishedReceipt *string        `json:"published_receipt"`
	Metadata         map[string]any `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"`
}

func (a Anchor) Published() bool {
	return a.PublishedReceipt != nil && strings.TrimSpace(*a.PublishedReceipt) != ""
}

// EntryCount reads metadata.entry_count, tolerating the numeric types JSON
// decoding may produce.
func (a Anchor) EntryCount() int {
	switch v := a.Metadata["entry_count"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case interface{ Int64() (int64, error) }:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
