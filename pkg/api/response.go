package api

import (
	"encoding/json"
	"net/http"

	"github.com/netpulse/netpulse/pkg/errdefs"
)

// envelope is the uniform response body: {code:0, data} on success,
// {code:-1, message} on error.
type envelope struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Code: 0, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errdefs.HTTPStatus(err), envelope{Code: -1, Message: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errdefs.Validationf("invalid request body: %v", err)
	}
	return nil
}
