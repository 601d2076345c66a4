package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/quickide/internal/common"
)

const (
	msgInternal          = "internal error"
	msgUnauthorized      = "authorization denied"
	msgUserExists        = "User already exists"
	msgInvalidCredential = "Invalid credentials"
	msgNotFound          = "not found"
	msgInvalidBody       = "invalid request body"
)

// errorBody is the envelope of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error onto the HTTP status and client message.
// Unrecognized errors become a generic 500.
func statusFor(err error) (int, string) {
	if re, ok := common.IsUpstreamRejected(err); ok {
		status := re.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, re.Message
	}

	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, common.ErrMissingCredential), errors.Is(err, common.ErrInvalidToken):
		return http.StatusUnauthorized, msgUnauthorized
	case errors.Is(err, common.ErrConflict):
		return http.StatusBadRequest, msgUserExists
	case errors.Is(err, common.ErrInvalidCredentials):
		return http.StatusBadRequest, msgInvalidCredential
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound, msgNotFound
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "request body too large"
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable, common.ErrUpstreamUnavailable.Error()
	}
	return http.StatusInternalServerError, msgInternal
}

// writeError answers with the mapped status and {"error": msg}. Server-side
// failures are logged with their full detail. Nothing is written once the
// client has gone.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		s.logger.Debug(r.Context(), "response dropped, client went away",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err.Error(),
		)
		return
	}
	status, msg := statusFor(err)
	if status >= 500 {
		s.logger.Error(r.Context(), "request failed",
			"request_id", RequestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"status", status,
			"error", err.Error(),
		)
	}
	writeJSON(w, status, errorBody{Error: msg})
}
