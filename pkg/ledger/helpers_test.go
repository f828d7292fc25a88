package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func hashOfString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func hashPair(a, b string) string {
	return hashOfString(a + b)
}

func jsonMarshal(v any) ([]byte, error) { return json.Marshal(v) }
