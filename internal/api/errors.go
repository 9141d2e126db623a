package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/gavel/internal/hearing"
	"github.com/MikeSquared-Agency/gavel/internal/transport"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: code, Message: message, Retryable: retryable},
	})
}

// writeError maps controller and backend failures onto the bridge envelope.
// Backend HTTP statuses pass through; timeouts and network failures become
// 504 and 502.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hearing.ErrNoCase):
		writeErrorCode(w, http.StatusConflict, "no_case", err.Error(), false)
		return
	case errors.Is(err, hearing.ErrInvalidRole):
		writeErrorCode(w, http.StatusBadRequest, "invalid_role", err.Error(), false)
		return
	}

	if te, ok := transport.AsError(err); ok {
		status := http.StatusBadGateway
		switch {
		case te.Kind == transport.KindTimeout:
			status = http.StatusGatewayTimeout
		case te.Kind == transport.KindHTTP && te.Status >= 400:
			status = te.Status
		}
		code := te.Code
		if code == "" {
			code = string(te.Kind)
		}
		writeErrorCode(w, status, code, te.Message, te.ShouldRetry())
		return
	}

	slog.Error("bridge request failed", "error", err)
	writeErrorCode(w, http.StatusInternalServerError, "internal", err.Error(), false)
}
