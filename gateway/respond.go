package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/kavindyakdn/smart-home-energy-monitor/errors"
)

func errorBody(message string, status int) map[string]any {
	return map[string]any{"error": message, "status": status}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, err error) {
	s.writeJSON(w, http.StatusBadRequest, errorBody(err.Error(), http.StatusBadRequest))
}

// writeError maps a domain error to its HTTP status. Malformed requests are
// 400 at the decode site; business-rule rejections land here as 422.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	s.writeJSON(w, status, errorBody(err.Error(), status))
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.IsValidation(err),
		errors.Is(err, errors.ErrUnknownDevice),
		errors.Is(err, errors.ErrEmptyBatch),
		errors.Is(err, errors.ErrBatchTooLarge),
		errors.Is(err, errors.ErrNoValidRecords),
		errors.Is(err, errors.ErrInvalidRetention):
		return http.StatusUnprocessableEntity
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrStorageUnavailable), errors.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
