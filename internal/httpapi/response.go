package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned in the body of non-2xx responses.
const (
	codeDBUnavailable = "db_unavailable"
	codeNoRuns        = "no_runs"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "status", status, "error", err)
	}
}

// respondError writes {"error":{"code":...,"message":...}}.
func respondError(w http.ResponseWriter, status int, code, msg string) {
	respond(w, status, errorEnvelope{Error: apiError{Code: code, Message: msg}})
}
