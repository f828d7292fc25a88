package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"policyledger/pkg/httpx"
	"policyledger/pkg/ledger"
	"policyledger/services/ledger/internal/anchoring"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize    = 1000
	maxPageSize        = 10000
	maxVerifyBodyBytes = 64 << 20 // 64MB
)

// Ledger is what the HTTP surface needs from a store. Both the Postgres and
// the in-memory store satisfy it.
type Ledger interface {
	anchoring.EntrySource
	anchoring.AnchorRepository
	Entries(ctx context.Context, afterID int64, limit int) ([]ledger.Entry, error)
	VerifyChain(ctx context.Context) (ledger.VerifyResult, error)
	ListAnchors(ctx context.Context) ([]ledger.Anchor, error)
}

type appendRequest struct {
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

func registerLedgerRoutes(api chi.Router, lg Ledger, anchorer *anchoring.Anchorer, publisher *anchoring.Publisher) {
	api.Post("/entries", func(w http.ResponseWriter, r *http.Request) {
		var req appendRequest
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		e, err := lg.Append(r.Context(), ledger.EventType(req.EventType), req.EntityType, req.EntityID, req.Payload)
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "entry": e})
	})

	api.Get("/entries", func(w http.ResponseWriter, r *http.Request) {
		fromID, err := queryInt(r, "from_id", 1)
		if err != nil || fromID < 1 {
			httpx.WriteError(w, 400, "BAD_REQUEST", "from_id must be a positive integer", nil)
			return
		}
		limit, err := queryInt(r, "limit", defaultPageSize)
		if err != nil || limit < 1 || limit > maxPageSize {
			httpx.WriteError(w, 400, "BAD_REQUEST", "limit must be between 1 and 10000", nil)
			return
		}
		entries, err := lg.Entries(r.Context(), int64(fromID-1), limit)
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		doc := ledger.NewExport(entries)
		resp := map[string]any{
			"request_id":  httpx.NewRequestID(),
			"version":     doc.Version,
			"exported_at": doc.ExportedAt,
			"entries":     doc.Entries,
		}
		if len(entries) == limit {
			resp["next_from_id"] = entries[len(entries)-1].ID + 1
		}
		httpx.WriteJSON(w, 200, resp)
	})

	api.Get("/chain:verify", func(w http.ResponseWriter, r *http.Request) {
		res, err := lg.VerifyChain(r.Context())
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "result": res})
	})

	api.Post("/verify", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxVerifyBodyBytes)
		doc, err := ledger.DecodeExport(r.Body)
		if err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "result": ledger.VerifyEntries(doc.Entries)})
	})

	api.Get("/anchors", func(w http.ResponseWriter, r *http.Request) {
		anchors, err := lg.ListAnchors(r.Context())
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "anchors": anchors})
	})

	api.Get("/anchors/{day}", func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}
		a, err := lg.GetAnchor(r.Context(), day)
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "anchor": a})
	})

	api.Post("/anchors/{day}:compute", func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}
		force, _ := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("force")))
		root, ok, err := anchorer.ComputeDailyRoot(r.Context(), day, anchoring.ComputeOptions{Force: force})
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		resp := map[string]any{"request_id": httpx.NewRequestID(), "day": day, "anchored": ok, "merkle_root": nil}
		if ok {
			resp["merkle_root"] = root
		}
		httpx.WriteJSON(w, 200, resp)
	})

	api.Post("/anchors/{day}:publish", func(w http.ResponseWriter, r *http.Request) {
		day, ok := dayParam(w, r)
		if !ok {
			return
		}
		a, err := lg.GetAnchor(r.Context(), day)
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		receipt, ok, err := publisher.Publish(r.Context(), a.MerkleRoot, day)
		if err != nil {
			httpx.WriteLedgerError(w, err)
			return
		}
		resp := map[string]any{"request_id": httpx.NewRequestID(), "day": day, "published": ok, "receipt": nil}
		if ok {
			resp["receipt"] = receipt
		}
		httpx.WriteJSON(w, 200, resp)
	})
}

func dayParam(w http.ResponseWriter, r *http.Request) (ledger.Day, bool) {
	day, err := ledger.ParseDay(chi.URLParam(r, "day"))
	if err != nil {
		httpx.WriteError(w, 400, "BAD_REQUEST", err.Error(), nil)
		return ledger.Day{}, false
	}
	return day, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
