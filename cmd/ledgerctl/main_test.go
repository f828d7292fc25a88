package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"policyledger/pkg/ledger"
)

func buildChain(t *testing.T, n int, start time.Time) []ledger.Entry {
	t.Helper()
	prev := ledger.GenesisHash
	out := make([]ledger.Entry, 0, n)
	for i := 0; i < n; i++ {
		d, err := ledger.PrepareAppend(ledger.EventVoteCast, "vote", "7d2c5a8e-0b1f-4f7e-9a51-3f0c2b8e6d11", map[string]any{"i": i})
		if err != nil {
			t.Fatalf("PrepareAppend: %v", err)
		}
		e, err := d.Seal(start.Add(time.Duration(i)*time.Hour), prev)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		e.ID = int64(i + 1)
		prev = e.Hash
		out = append(out, e)
	}
	return out
}

func writeExport(t *testing.T, entries []ledger.Entry) string {
	t.Helper()
	b, err := json.Marshal(ledger.NewExport(entries))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "export.json")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func runCLI(t *testing.T, stdin string, args ...string) (int, map[string]any) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, strings.NewReader(stdin), &stdout, &stderr)
	var summary map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &summary); err != nil {
		t.Fatalf("summary is not json: %q", stdout.String())
	}
	return code, summary
}

func TestVerifyPass(t *testing.T) {
	path := writeExport(t, buildChain(t, 4, time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)))
	code, summary := runCLI(t, "", "verify", "--entries", path)
	if code != 0 || summary["status"] != "PASS" {
		t.Fatalf("expected PASS, got code=%d summary=%v", code, summary)
	}
	if summary["entries_checked"] != float64(4) {
		t.Fatalf("unexpected entries_checked %v", summary["entries_checked"])
	}
}

func TestVerifyFromStdinDetectsTamper(t *testing.T) {
	entries := buildChain(t, 3, time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC))
	entries[1].EntityType = "cluster"
	b, _ := json.Marshal(entries)

	code, summary := runCLI(t, string(b), "verify", "--entries", "-")
	if code != 1 || summary["status"] != "FAIL" {
		t.Fatalf("expected FAIL, got code=%d summary=%v", code, summary)
	}
	if summary["failed_index"] != float64(1) || summary["reason"] != ledger.ReasonHashMismatch {
		t.Fatalf("unexpected failure detail %v", summary)
	}
}

func TestMerkleRecomputesDayRoot(t *testing.T) {
	entries := buildChain(t, 5, time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC))
	path := writeExport(t, entries)
	want, _ := ledger.MerkleRoot([]string{entries[0].Hash, entries[1].Hash, entries[2].Hash, entries[3].Hash})

	code, summary := runCLI(t, "", "merkle", "--entries", path, "--day", "2026-03-01", "--root", strings.ToUpper(want))
	if code != 0 || summary["merkle_root"] != want || summary["entry_count"] != float64(4) {
		t.Fatalf("unexpected merkle result code=%d summary=%v", code, summary)
	}

	code, summary = runCLI(t, "", "merkle", "--entries", path, "--day", "2026-03-01", "--root", strings.Repeat("0", 64))
	if code != 1 || summary["reason"] != "root_mismatch" {
		t.Fatalf("expected root_mismatch, got code=%d summary=%v", code, summary)
	}

	code, summary = runCLI(t, "", "merkle", "--entries", path, "--day", "2026-02-27")
	if code != 1 || summary["reason"] != "no entries on day" {
		t.Fatalf("expected empty day failure, got code=%d summary=%v", code, summary)
	}
}

func TestUsageErrors(t *testing.T) {
	if code, _ := runCLI(t, "", "verify"); code != 2 {
		t.Fatalf("expected exit 2 without --entries, got %d", code)
	}
	if code, _ := runCLI(t, "", "merkle", "--entries", "x.json"); code != 2 {
		t.Fatalf("expected exit 2 without --day, got %d", code)
	}
	if code, _ := runCLI(t, "", "bogus"); code != 2 {
		t.Fatalf("expected exit 2 for unknown command, got %d", code)
	}
}
