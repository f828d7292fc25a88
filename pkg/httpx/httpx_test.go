package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"policyledger/pkg/ledger"
)

func TestWriteLedgerErrorMapsKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{ledger.E(ledger.KindValidation, "Append", ledger.ErrUnknownEventType), http.StatusBadRequest, "VALIDATION"},
		{ledger.E(ledger.KindChainIntegrity, "Append", ledger.ErrChainFork), http.StatusConflict, "CHAIN_INTEGRITY"},
		{ledger.E(ledger.KindConflict, "ComputeDailyRoot", ledger.ErrAnchorSealed), http.StatusConflict, "CONFLICT"},
		{ledger.E(ledger.KindNotFound, "GetAnchor", ledger.ErrAnchorNotFound), http.StatusNotFound, "NOT_FOUND"},
		{ledger.E(ledger.KindIO, "Publish", errors.New("timeout")), http.StatusBadGateway, "IO"},
		{ledger.E(ledger.KindIO, "Append", context.Canceled), http.StatusBadGateway, "IO"},
		{ledger.E(ledger.KindConfiguration, "Publish", ledger.ErrPublishCredentialMissing), http.StatusInternalServerError, "CONFIGURATION"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		WriteLedgerError(rr, tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		var body struct {
			RequestID string `json:"request_id"`
			Error     struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Error.Code != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, body.Error.Code)
		}
		if !strings.HasPrefix(body.RequestID, "req_") {
			t.Fatalf("missing request id")
		}
	}
}

func TestReadJSONKeepsNumbersAndRejectsUnknownFields(t *testing.T) {
	var dst struct {
		Payload map[string]any `json:"payload"`
	}
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payload":{"n":9007199254740993}}`))
	if err := ReadJSON(r, &dst); err != nil {
		t.Fatalf("ReadJSON error: %v", err)
	}
	if n, ok := dst.Payload["n"].(json.Number); !ok || n.String() != "9007199254740993" {
		t.Fatalf("expected json.Number, got %#v", dst.Payload["n"])
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payload":{},"extra":1}`))
	if err := ReadJSON(r, &dst); err == nil {
		t.Fatalf("expected unknown field error")
	}
}
