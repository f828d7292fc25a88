package ledger

import (
	"time"

	"policyledger/pkg/evidencehash"
)

// VerifyResult reports a chain audit. A mismatch is data, not an error:
// Valid=false with FailedIndex pointing at the first entry that did not
// check out. Checked counts the entries that passed before it.
type VerifyResult struct {
	Valid       bool   `json:"valid"`
	Checked     int    `json:"entries_checked"`
	FailedIndex *int   `json:"failed_index,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

const (
	ReasonHashMismatch       = "hash_mismatch"
	ReasonPrevHashMismatch   = "prev_hash_mismatch"
	ReasonHashError          = "hash_error"
	ReasonTimestampPrecision = "timestamp_precision"
)

// HashOf recomputes an entry's hash from its own stored fields.
func HashOf(e Entry) (string, error) {
	return evidencehash.ComputeHash(FormatTimestamp(e.Timestamp), string(e.EventType), e.EntityType, e.EntityID, e.Payload, e.PrevHash)
}

// VerifyEntries audits an ordered entry list that starts at the genesis
// entry. It needs no database, so an export can be re-verified offline.
func VerifyEntries(entries []Entry) VerifyResult {
	v := NewVerifier()
	for _, e := range entries {
		if !v.Add(e) {
			break
		}
	}
	return v.Result()
}

// Verifier is the incremental form of VerifyEntries, for callers that page
// through a large chain.
type Verifier struct {
	expectedPrev string
	checked      int
	failed       *int
	reason       string
}

func NewVerifier() *Verifier {
	return &Verifier{expectedPrev: GenesisHash}
}

// Add checks the next entry and reports whether verification may continue.
func (v *Verifier) Add(e Entry) bool {
	if v.failed != nil {
		return false
	}
	idx := v.checked
	h, err := HashOf(e)
	switch {
	case !e.Timestamp.Equal(e.Timestamp.Truncate(time.Millisecond)):
		// The hash only covers milliseconds; anything finer was not sealed.
		v.fail(idx, ReasonTimestampPrecision)
	case err != nil:
		v.fail(idx, ReasonHashError)
	case h != e.Hash:
		v.fail(idx, ReasonHashMismatch)
	case e.PrevHash != v.expectedPrev:
		v.fail(idx, ReasonPrevHashMismatch)
	default:
		v.expectedPrev = e.Hash
		v.checked++
		return true
	}
	return false
}

func (v *Verifier) fail(idx int, reason string) {
	v.failed = &idx
	v.reason = reason
}

func (v *Verifier) Result() VerifyResult {
	if v.failed != nil {
		idx := *v.failed
		return VerifyResult{Valid: false, Checked: v.checked, FailedIndex: &idx, Reason: v.reason}
	}
	return VerifyResult{Valid: true, Checked: v.checked}
}

// Tail is the hash the next verified entry must carry as prev_hash.
func (v *Verifier) Tail() string { return v.expectedPrev }
