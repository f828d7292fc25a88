package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"policyledger/pkg/ledger"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a request body strictly. Numbers stay json.Number so
// payload values hash exactly as the caller wrote them.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	dec.UseNumber()
	return dec.Decode(dst)
}

func WriteError(w http.ResponseWriter, status int, code, message string, details any) {
	resp := map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"code": code, "message": message, "details": details,
		},
	}
	WriteJSON(w, status, resp)
}

// StatusForKind maps a ledger error kind to its HTTP status.
func StatusForKind(k ledger.Kind) int {
	switch k {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindChainIntegrity, ledger.KindConflict:
		return http.StatusConflict
	case ledger.KindIO:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteLedgerError writes err using its ledger kind as the error code.
// Errors without a kind become INTERNAL.
func WriteLedgerError(w http.ResponseWriter, err error) {
	kind := ledger.KindOf(err)
	code := string(kind)
	if code == "" {
		code = "INTERNAL"
	}
	var details any
	var le *ledger.Error
	if errors.As(err, &le) && le.Op != "" {
		details = map[string]any{"op": le.Op}
	}
	WriteError(w, StatusForKind(kind), code, err.Error(), details)
}
