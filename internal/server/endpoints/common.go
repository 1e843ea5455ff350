package endpoints

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Nadiam75/snappify/internal/engines"
)

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response. A value that cannot be encoded becomes
// a 500 before any header is sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "status", status, "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(ErrorResponse{Error: "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// WriteRequestError writes err with the status its kind maps to. Errors
// that are not request errors are reported as 500.
func WriteRequestError(w http.ResponseWriter, err error) {
	if re, ok := engines.AsRequestError(err); ok {
		writeError(w, re.HTTPStatus(), re.Message)
		return
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
