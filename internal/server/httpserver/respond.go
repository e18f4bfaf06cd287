package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/errs"
)

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error     string `json:"error"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// fail maps service errors onto HTTP statuses. Denial reasons are shown to
// government staff only; citizens get a bare "forbidden".
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrMissingReason):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, errs.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, errs.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "step-up token expired")
	case errors.Is(err, errs.ErrTokenMismatch):
		writeError(w, r, http.StatusUnauthorized, "step-up token mismatch")
	case errors.Is(err, errs.ErrForbidden):
		body := errorBody{Error: "forbidden", RequestID: middleware.GetReqID(r.Context())}
		if reason, ok := errs.ReasonOf(err); ok && s.isStaff(r) {
			body.Reason = string(reason)
		}
		writeJSON(w, http.StatusForbidden, body)
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, errs.ErrInvalidStateTransition):
		writeError(w, r, http.StatusConflict, "invalid state transition")
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, errs.ErrRateLimited):
		writeError(w, r, http.StatusTooManyRequests, "rate limited")
	default:
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// isStaff reloads the caller's role; unknown callers count as citizens.
func (s *Server) isStaff(r *http.Request) bool {
	id, ok := Subject(r.Context())
	if !ok {
		return false
	}
	u, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		return false
	}
	return u.Role.IsGov()
}
