// Package evidencehash holds the pure hashing rules of the evidence ledger:
// canonical JSON, entry material and Merkle pair hashing. Nothing here touches
// storage or the clock.
package evidencehash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Canonical material keys. The encoder sorts map keys, so this order is also
// the serialized order.
const (
	KeyEntityID   = "entity_id"
	KeyEntityType = "entity_type"
	KeyEventType  = "event_type"
	KeyPayload    = "payload"
	KeyPrevHash   = "prev_hash"
	KeyTimestamp  = "timestamp"
)

// CanonicalJSON serializes v with lexicographically sorted object keys, no
// insignificant whitespace and non-ASCII text left as raw UTF-8. Values are
// first normalized through a generic decode so structs, typed maps and
// json.Number all end up in the same shape.
func CanonicalJSON(v any) ([]byte, error) {
	norm, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	return encode(norm)
}

// Normalize converts v into the generic JSON value tree (map[string]any,
// []any, string, bool, nil, json.Number) that CanonicalJSON serializes.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizePayload is Normalize for entry payloads. A nil payload becomes an
// empty object so that "no payload" has a single representation.
func NormalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	norm, err := Normalize(payload)
	if err != nil {
		return nil, err
	}
	m, _ := norm.(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return unescapeLineSeparators(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// unescapeLineSeparators undoes encoding/json's unconditional \u2028 and
// \u2029 escapes so every non-ASCII character is emitted as raw UTF-8. An
// escape preceded by an odd run of backslashes is literal text and is kept.
func unescapeLineSeparators(b []byte) []byte {
	if !bytes.Contains(b, []byte(`\u202`)) {
		return b
	}
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+5 < len(b) && string(b[i+1:i+5]) == "u202" && (b[i+5] == '8' || b[i+5] == '9') {
			run := 0
			for j := i - 1; j >= 0 && b[j] == '\\'; j-- {
				run++
			}
			if run%2 == 0 {
				if b[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, b[i])
	}
	return out
}

// CanonicalMaterial builds the exact byte string an evidence entry hash is
// computed over. entityID is lower-cased so UUID case never changes the hash.
func CanonicalMaterial(timestampISO, eventType, entityType, entityID string, payload map[string]any, prevHash string) ([]byte, error) {
	p, err := NormalizePayload(payload)
	if err != nil {
		return nil, err
	}
	material := map[string]any{
		KeyTimestamp:  timestampISO,
		KeyEventType:  eventType,
		KeyEntityType: entityType,
		KeyEntityID:   strings.ToLower(entityID),
		KeyPayload:    p,
		KeyPrevHash:   prevHash,
	}
	return encode(material)
}

// ComputeHash returns hex(SHA-256(CanonicalMaterial(...))).
func ComputeHash(timestampISO, eventType, entityType, entityID string, payload map[string]any, prevHash string) (string, error) {
	b, err := CanonicalMaterial(timestampISO, eventType, entityType, entityID, payload, prevHash)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashPair hashes the concatenation of two hex digests as text, not as the
// decoded bytes.
func HashPair(left, right string) string {
	h := sha256.New()
	h.Write([]byte(left))
	h.Write([]byte(right))
	return hex.EncodeToString(h.Sum(nil))
}
