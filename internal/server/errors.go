package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"cloudbase/internal/files"
	"cloudbase/internal/logging"
	"cloudbase/internal/session"
	"cloudbase/internal/storage"
	"cloudbase/internal/users"
)

// badRequest is a client error whose text is safe to return as is.
type badRequest string

func (e badRequest) Error() string { return string(e) }

var (
	errUnauthorized = errors.New("unauthorized")
	errLocked       = errors.New("account locked")
)

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Message: msg})
}

// statusFor maps an error to the HTTP status and client message.
func statusFor(err error) (int, string) {
	var (
		ve     *users.ValidationError
		br     badRequest
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Message
	case errors.As(err, &br):
		return http.StatusBadRequest, string(br)
	case errors.Is(err, storage.ErrInvalidPath):
		return http.StatusBadRequest, "Invalid path"
	case errors.Is(err, files.ErrInvalidMove):
		return http.StatusBadRequest, "Invalid move"
	case errors.Is(err, files.ErrEmptyQuery):
		return http.StatusBadRequest, "Search query must not be empty"
	case errors.Is(err, errUnauthorized),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrInvalidToken):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, users.ErrInvalidCredentials):
		return http.StatusUnauthorized, "User not found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, users.ErrUserExists):
		return http.StatusConflict, "User already exists"
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict, "Resource already exists"
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge, "Upload too large"
	case errors.Is(err, errLocked):
		return http.StatusLocked, "Account temporarily locked due to too many failed sign-in attempts"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "Storage temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// writeError answers with the status mapped from err. Server side failures
// are logged with the request id.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.log).Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	writeMessage(w, status, msg)
}
