package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/philippe-spaceship/spaceship-chat-app/internal/model"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Notice string `json:"notice,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeFailure maps a classified error to its status and user notice.
func writeFailure(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), failureBody(err))
}

func failureBody(err error) ErrorResponse {
	body := ErrorResponse{
		Error:  err.Error(),
		Kind:   string(model.KindOf(err)),
		Notice: model.Notice(err),
	}
	var e *model.Error
	if errors.As(err, &e) && e.Reason != "" {
		body.Error = e.Reason
	}
	return body
}

// statusFor maps error kinds to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSubmissionPending):
		return http.StatusConflict
	case errors.Is(err, model.ErrJobTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrSubmissionFailed),
		errors.Is(err, model.ErrJobFailed),
		errors.Is(err, model.ErrMalformedResponse),
		errors.Is(err, model.ErrRequestRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return model.InvalidInput("decode", "invalid request body")
}
