package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"policyledger/pkg/ledger"

	"github.com/fatih/color"
)

const usage = "usage: ledgerctl verify --entries <path|-> | ledgerctl merkle --entries <path|-> --day <YYYY-MM-DD> [--root <hex>]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		failSummary(stdout, stderr, "", usage, nil)
		return 2
	}
	switch args[0] {
	case "verify":
		return runVerify(args[1:], stdin, stdout, stderr)
	case "merkle":
		return runMerkle(args[1:], stdin, stdout, stderr)
	default:
		failSummary(stdout, stderr, "", "unknown command", nil)
		return 2
	}
}

func runVerify(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	entriesPath := fs.String("entries", "", "path to exported entries json, or - for stdin")
	if err := fs.Parse(args); err != nil {
		failSummary(stdout, stderr, "verify", err.Error(), nil)
		return 2
	}
	doc, err := readExport(*entriesPath, stdin)
	if err != nil {
		failSummary(stdout, stderr, "verify", err.Error(), nil)
		return exitFor(err)
	}

	res := ledger.VerifyEntries(doc.Entries)
	fields := map[string]any{"entries_checked": res.Checked, "entries_total": len(doc.Entries)}
	if !res.Valid {
		fields["failed_index"] = *res.FailedIndex
		failSummary(stdout, stderr, "verify", res.Reason, fields)
		return 1
	}
	if n := len(doc.Entries); n > 0 {
		fields["tail_hash"] = doc.Entries[n-1].Hash
	}
	passSummary(stdout, stderr, "verify", fields)
	return 0
}

func runMerkle(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("merkle", flag.ContinueOnError)
	fs.SetOutput(stderr)
	entriesPath := fs.String("entries", "", "path to exported entries json, or - for stdin")
	dayArg := fs.String("day", "", "UTC day to anchor (YYYY-MM-DD)")
	expectRoot := fs.String("root", "", "expected merkle root; mismatch fails")
	if err := fs.Parse(args); err != nil {
		failSummary(stdout, stderr, "merkle", err.Error(), nil)
		return 2
	}
	day, err := ledger.ParseDay(*dayArg)
	if err != nil {
		failSummary(stdout, stderr, "merkle", "--day is required: "+err.Error(), nil)
		return 2
	}
	doc, err := readExport(*entriesPath, stdin)
	if err != nil {
		failSummary(stdout, stderr, "merkle", err.Error(), nil)
		return exitFor(err)
	}

	root, count, ok := ledger.DayRoot(doc.Entries, day)
	fields := map[string]any{"day": day.String(), "entry_count": count}
	if !ok {
		failSummary(stdout, stderr, "merkle", "no entries on day", fields)
		return 1
	}
	fields["merkle_root"] = root
	if want := strings.ToLower(strings.TrimSpace(*expectRoot)); want != "" && want != root {
		fields["expected_root"] = want
		failSummary(stdout, stderr, "merkle", "root_mismatch", fields)
		return 1
	}
	passSummary(stdout, stderr, "merkle", fields)
	return 0
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func exitFor(err error) int {
	if _, ok := err.(usageError); ok {
		return 2
	}
	return 1
}

func readExport(path string, stdin io.Reader) (ledger.ExportDocument, error) {
	path = strings.TrimSpace(path)
	switch path {
	case "":
		return ledger.ExportDocument{}, usageError{"--entries is required"}
	case "-":
		return ledger.DecodeExport(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return ledger.ExportDocument{}, fmt.Errorf("read entries failed: %w", err)
	}
	defer f.Close()
	return ledger.DecodeExport(f)
}

func passSummary(stdout, stderr io.Writer, command string, fields map[string]any) {
	writeSummary(stdout, command, "PASS", "", fields)
	color.New(color.FgGreen, color.Bold).Fprintf(stderr, "PASS %s\n", command)
}

func failSummary(stdout, stderr io.Writer, command, reason string, fields map[string]any) {
	writeSummary(stdout, command, "FAIL", reason, fields)
	color.New(color.FgRed, color.Bold).Fprintf(stderr, "FAIL %s: %s\n", command, reason)
}

func writeSummary(w io.Writer, command, status, reason string, fields map[string]any) {
	out := map[string]any{
		"command":       command,
		"status":        status,
		"timestamp_utc": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		out["reason"] = reason
	}
	for k, v := range fields {
		out[k] = v
	}
	b, _ := json.Marshal(out)
	fmt.Fprintln(w, string(b))
}
