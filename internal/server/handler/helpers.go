package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/adboard/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type errorMapping struct {
	target error
	status int
	code   string
	hint   string
}

// errorMappings turns engine errors into actionable responses. Capacity and
// config errors tell the caller what to fix; not-found and transition errors
// mean the caller's view is stale.
var errorMappings = []errorMapping{
	{domain.ErrNotFound, http.StatusNotFound, "not_found", "refresh and retry"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition", "listing status changed, refresh and retry"},
	{domain.ErrCapacityExceeded, http.StatusConflict, "capacity_exceeded", "tier is full, retry after a slot frees up"},
	{domain.ErrInvalidConfig, http.StatusBadRequest, "invalid_config", "fix the request input"},
	{domain.ErrNotAssigned, http.StatusConflict, "not_assigned", "listing holds no slot"},
	{domain.ErrScheduleExhausted, http.StatusConflict, "schedule_exhausted", "no boost credits left"},
	{domain.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict", "listing was modified concurrently, retry"},
	{domain.ErrLockHeld, http.StatusConflict, "busy", "another worker is running this job"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited", "slow down"},
}

// writeDomainError maps err to a status code. Unknown errors are logged and
// reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeJSON(w, m.status, map[string]string{
				"error":   err.Error(),
				"code":    m.code,
				"message": m.hint,
			})
			return
		}
	}
	logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseLimit reads the limit query parameter. Defaults to def, capped at 500.
func parseLimit(r *http.Request, def int) int {
	limit := def
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	return min(limit, 500)
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
