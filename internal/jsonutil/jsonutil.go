// Package jsonutil renders the JSON envelopes used by the Rekon storage API.
//
// Every non-binary response is either a success envelope ({"error": false,
// ...fields}) or an error envelope ({"error": true, "message": ..., "code":
// ...}), matching what the other Rekon services expect.
package jsonutil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rekonhq/rekon-storage/internal/apperr"
)

// ErrorEnvelope is the JSON body for failed requests.
type ErrorEnvelope struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// WriteJSON serializes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// WriteError maps err to an error envelope. Unrecognized errors are reported
// as storage-io so internal detail never leaks to callers.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		slog.Error("Unclassified error reached response writer", "error", err)
		appErr = apperr.ErrStorageIO
	}
	WriteJSON(w, appErr.HTTPStatus, ErrorEnvelope{
		Error:   true,
		Message: appErr.Message,
		Code:    appErr.Code,
	})
}

// WriteOK writes a success envelope with optional extra fields.
func WriteOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"error": false}
	for k, v := range extra {
		body[k] = v
	}
	WriteJSON(w, http.StatusOK, body)
}
