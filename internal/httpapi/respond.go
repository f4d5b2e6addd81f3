package httpapi

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/example/fare-engine/internal/delta"
	"github.com/example/fare-engine/internal/fare"
	"github.com/example/fare-engine/internal/models"
	"github.com/example/fare-engine/internal/rates"
	"github.com/example/fare-engine/internal/reliability"
	"github.com/example/fare-engine/internal/storage"
	"github.com/example/fare-engine/internal/throttle"
)

type errorBody struct {
	Error             string        `json:"error"`
	Message           string        `json:"message,omitempty"`
	MinCents          *models.Cents `json:"min_cents,omitempty"`
	MaxCents          *models.Cents `json:"max_cents,omitempty"`
	RetryAfterSeconds *int          `json:"retry_after_seconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError maps the engine's typed errors onto statuses. Out-of-range
// rejections carry the admissible bounds so clients can correct without a
// second round trip; throttled edits carry Retry-After.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var oor *fare.OutOfRangeError
	var limited *throttle.RateLimitedError
	switch {
	case errors.As(err, &oor):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:    "out_of_range",
			Message:  oor.Error(),
			MinCents: &oor.Min,
			MaxCents: &oor.Max,
		})
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:             "rate_limited",
			Message:           limited.Error(),
			RetryAfterSeconds: &secs,
		})
	case errors.Is(err, fare.ErrInvalidInput), errors.Is(err, reliability.ErrInvalidEvent):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid_input", Message: err.Error()})
	case errors.Is(err, rates.ErrInvalidConfig):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "invalid_config", Message: err.Error()})
	case errors.Is(err, delta.ErrEscalationNotAllowed):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "escalation_not_allowed", Message: err.Error()})
	case errors.Is(err, delta.ErrInvalidState):
		writeJSON(w, http.StatusConflict, errorBody{Error: "invalid_state", Message: err.Error()})
	case errors.Is(err, storage.ErrFareNotActive):
		writeJSON(w, http.StatusConflict, errorBody{Error: "fare_not_active", Message: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not_found", Message: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
