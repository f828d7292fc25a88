package ledger

import "policyledger/pkg/evidencehash"

// MerkleRoot folds leaf hashes pairwise until one node remains. An odd level
// is padded by duplicating its last node, and a pair (L, R) becomes
// hex(SHA-256(L ++ R)) over the hex text. A single leaf is its own root.
// ok is false when there are no leaves.
func MerkleRoot(leaves []string) (root string, ok bool) {
	if len(leaves) == 0 {
		return "", false
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, evidencehash.HashPair(level[i], level[i+1]))
		}
		level = next
	}
	return level[0], true
}

// DayEntries returns the entries timestamped within day, in the order given.
// The day's own anchor_computed entries are left out: they record a root of
// this day and would otherwise change it every time it is computed.
func DayEntries(entries []Entry, day Day) []Entry {
	anchorID := AnchorEntityID(day)
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !day.Contains(e.Timestamp) {
			continue
		}
		if e.EventType == EventAnchorComputed && e.EntityID == anchorID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// DayRoot computes the Merkle root of DayEntries(entries, day) along with how
// many entries it covered.
func DayRoot(entries []Entry, day Day) (root string, count int, ok bool) {
	in := DayEntries(entries, day)
	leaves := make([]string, len(in))
	for i, e := range in {
		leaves[i] = e.Hash
	}
	root, ok = MerkleRoot(leaves)
	return root, len(leaves), ok
}
