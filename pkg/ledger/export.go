package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const ExportVersion = "evidence-export-v1"

// ExportDocument is the portable form of a chain segment. Entries must start
// at genesis for VerifyEntries to accept them.
type ExportDocument struct {
	Version    string    `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Entries    []Entry   `json:"entries"`
}

func NewExport(entries []Entry) ExportDocument {
	if entries == nil {
		entries = []Entry{}
	}
	return ExportDocument{Version: ExportVersion, ExportedAt: time.Now().UTC(), Entries: entries}
}

// DecodeExport reads either an ExportDocument or a bare JSON array of
// entries. Numbers inside payloads are kept as json.Number so that integers
// beyond float64 precision hash exactly as they were written.
func DecodeExport(r io.Reader) (ExportDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return ExportDocument{}, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ExportDocument{}, fmt.Errorf("empty export")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if raw[0] == '[' {
		var entries []Entry
		if err := dec.Decode(&entries); err != nil {
			return ExportDocument{}, fmt.Errorf("decode entries: %w", err)
		}
		return ExportDocument{Version: ExportVersion, Entries: entries}, nil
	}
	var doc ExportDocument
	if err := dec.Decode(&doc); err != nil {
		return ExportDocument{}, fmt.Errorf("decode export: %w", err)
	}
	if doc.Version != "" && doc.Version != ExportVersion {
		return ExportDocument{}, fmt.Errorf("unsupported export version %q", doc.Version)
	}
	return doc, nil
}
