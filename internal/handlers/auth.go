package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/types"
)

// AuthHandler provides login and password reset endpoints.
type AuthHandler struct {
	auth  *services.AuthService
	reset *services.ResetService
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(auth *services.AuthService, reset *services.ResetService) *AuthHandler {
	return &AuthHandler{auth: auth, reset: reset}
}

// AuthRouter registers auth routes on the given router. Every route goes
// through limit, which may be nil.
func AuthRouter(r chi.Router, auth *services.AuthService, reset *services.ResetService, limit func(http.Handler) http.Handler) {
	handler := NewAuthHandler(auth, reset)

	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/login", handler.Login)
		r.Post("/forgot-password", handler.ForgotPassword)
		r.Put("/forgot-password/{hash}", handler.ApplyReset)
	})
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}

	user, err := h.auth.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, err := h.auth.IssueTokenFor(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, AuthResponse{Token: token, User: user})
}

// ForgotPassword starts a password reset. The response is the same whether
// or not the email belongs to an account.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		verr := &services.ValidationError{}
		verr.Add("email", "is required")
		writeServiceError(w, r, verr)
		return
	}

	if err := h.reset.RequestReset(r.Context(), req.Email); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// ApplyReset sets a new password with the token from the reset link. Unknown
// and expired tokens get the same response as valid ones.
func (h *AuthHandler) ApplyReset(w http.ResponseWriter, r *http.Request) {
	var req ApplyResetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.reset.ApplyReset(r.Context(), services.ResetInput{
		Hash:           chi.URLParam(r, "hash"),
		Password:       req.Password,
		RepeatPassword: req.RepeatPassword,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  *types.User `json:"user"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ApplyResetRequest struct {
	Password       string `json:"password"`
	RepeatPassword string `json:"repeat_password"`
}
