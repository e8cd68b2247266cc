package proxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes returned by the gateway itself. Responses relayed from the
// API keep the API's own body.
const (
	CodeAuthenticationFailed = "authentication_failed"
	CodeUpstreamTimeout      = "upstream_timeout"
	CodeUpstreamUnavailable  = "upstream_unavailable"
	CodeBodyTooLarge         = "body_too_large"
	CodeBadRequest           = "bad_request"
)

// ErrorResponse is the body of errors produced by the gateway.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
}

// writeJSON writes a JSON response with the given status code.
// Encoding failures are logged, the status line is already sent by then.
func writeJSON(ctx context.Context, w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.ErrorContext(ctx, "failed to encode JSON response", "error", err)
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	writeJSON(ctx, w, ErrorResponse{Code: code, Error: message}, status)
}
