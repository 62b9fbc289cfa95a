package http

import (
	"log/slog"
	"net/http"

	"github.com/fjod/sellr/internal/auth"
)

type AuthHandler struct {
	provider auth.Provider
	log      *slog.Logger
}

func NewAuthHandler(provider auth.Provider, log *slog.Logger) *AuthHandler {
	return &AuthHandler{provider: provider, log: log}
}

type CredentialsDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// POST /api/v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req CredentialsDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.provider.SignUp(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

// POST /api/v1/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req CredentialsDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	session, err := h.provider.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

// POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondUnauthenticated(w)
		return
	}
	if err := h.provider.SignOut(r.Context(), token); err != nil {
		handleServiceError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
