package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kart-io/smsforward/pkg/errors"
	"github.com/kart-io/smsforward/pkg/queue"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  errors.Code `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: errors.CodeOf(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, queue.ErrQueueFull), errors.Is(err, queue.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.HasCode(err, errors.CodeNotFound):
		return http.StatusNotFound
	case errors.HasCode(err, errors.CodeInvalidRule),
		errors.HasCode(err, errors.CodeInvalidDestination),
		errors.HasCode(err, errors.CodeInvalidConfig):
		return http.StatusBadRequest
	case errors.HasCode(err, errors.CodeAlreadyInProgress),
		errors.HasCode(err, errors.CodeAlreadyHandled),
		errors.HasCode(err, errors.CodeLeaseLost):
		return http.StatusConflict
	case errors.HasCode(err, errors.CodeNoDefaultRoute):
		return http.StatusUnprocessableEntity
	case errors.HasCode(err, errors.CodeCancelled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
