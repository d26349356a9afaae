// Package httpapi is the core's authoritative HTTP surface: session and
// devil (backward-chaining) CRUD, evaluate/consult/query, and liveness
// endpoints, on a bare net/http.ServeMux routing style covering the full
// operation set.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rulehost/rulehost/internal/types"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// requestIDFromContext extracts the request id stamped by requestIDMiddleware.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// errorBody is the wire shape spec.md §6 fixes: {error, message, details?}.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError renders err as the standard error envelope, choosing the
// status code from its Kind when it is (or wraps) a *types.Fault and
// falling back to 500 for anything else — mirrors ashita-ai-akashi's
// writeError helper but keyed off the core's own Kind taxonomy instead of
// a bespoke error-code string.
func writeError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	status := statusForKind(kind)
	writeJSON(w, status, errorBody{Error: string(kind), Message: err.Error()})
}

func statusForKind(kind types.Kind) int {
	switch kind {
	case types.KindNotFound:
		return http.StatusNotFound
	case types.KindValidation:
		return http.StatusBadRequest
	case types.KindOverloaded:
		return http.StatusTooManyRequests
	case types.KindInUse:
		return http.StatusConflict
	case types.KindTimeout:
		return http.StatusGatewayTimeout
	case types.KindCancelled:
		return http.StatusRequestTimeout
	case types.KindEngineFault, types.KindEngineGone, types.KindToolError, types.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: string(types.KindValidation), Message: message})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
