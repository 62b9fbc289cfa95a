package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/sellr/internal/auth"
	"github.com/fjod/sellr/internal/catalog"
	"github.com/fjod/sellr/internal/docstore"
	"github.com/fjod/sellr/internal/domain"
	"github.com/fjod/sellr/internal/repository"
	"github.com/fjod/sellr/internal/service"
)

const maxRequestBodySize = 1 << 20

type ErrorResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Details  string `json:"details,omitempty"`
	Redirect string `json:"redirect,omitempty"`
}

// AcceptedResponse is returned when a write is still running after the
// request deadline. The live streams show the outcome.
type AcceptedResponse struct {
	Status string `json:"status"`
	Op     string `json:"op"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func respondUnauthenticated(w http.ResponseWriter) {
	respondJSON(w, http.StatusUnauthorized, ErrorResponse{
		Error:    "sign in to continue",
		Code:     "unauthenticated",
		Redirect: "/signin",
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// handleServiceError maps domain and store errors onto HTTP statuses.
func handleServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrNoSession), errors.Is(err, service.ErrMissingUser):
		respondUnauthenticated(w)
	case errors.Is(err, auth.ErrMissingCredentials):
		respondError(w, http.StatusBadRequest, "missing_credentials", err.Error())
	case errors.Is(err, auth.ErrInvalidEmail):
		respondError(w, http.StatusBadRequest, "invalid_email", err.Error())
	case errors.Is(err, auth.ErrWeakPassword):
		respondError(w, http.StatusBadRequest, "weak_password", err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		respondError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, catalog.ErrUnknownItem):
		respondError(w, http.StatusNotFound, "unknown_item", err.Error())
	case errors.Is(err, repository.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error())
	case errors.Is(err, repository.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "line_not_found", err.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, domain.ErrIllegalTransition):
		respondError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, service.ErrOrderWrite), errors.Is(err, service.ErrKeyGeneration):
		respondError(w, http.StatusServiceUnavailable, "order_failed", err.Error())
	case errors.Is(err, docstore.ErrTooManyRetries), errors.Is(err, docstore.ErrClosed):
		respondError(w, http.StatusServiceUnavailable, "unavailable", "store is busy, try again")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// awaitWrite waits for p within ctx. A write still running when ctx ends is
// reported as accepted; it keeps going in the background.
func awaitWrite[T any](ctx context.Context, w http.ResponseWriter, log *slog.Logger, op string, p *service.Pending[T]) (T, bool) {
	v, err := p.Wait(ctx)
	if err == nil {
		return v, true
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		respondJSON(w, http.StatusAccepted, AcceptedResponse{Status: "pending", Op: op})
		var zero T
		return zero, false
	}
	handleServiceError(w, log, err)
	var zero T
	return zero, false
}
