package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stockroom/apiserver/internal/services"
	"github.com/stockroom/apiserver/internal/store"
	"github.com/stockroom/apiserver/types"
)

// UserHandler provides registration, profile and user administration endpoints.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

// UserRouter registers user routes. Registration is public and goes through
// limit; the rest require a bearer token.
func UserRouter(r chi.Router, users *services.UserService, auth Authorizer, limit func(http.Handler) http.Handler) {
	handler := NewUserHandler(users)

	if limit != nil {
		r.With(limit).Post("/", handler.Register)
	} else {
		r.Post("/", handler.Register)
	}
	r.With(RequireRole(auth, types.RoleUser)).Get("/me", handler.Me)

	r.Group(func(r chi.Router) {
		r.Use(RequireRole(auth, types.RoleAdmin))
		r.Get("/", handler.List)
		r.Delete("/{userID}", handler.Delete)
	})
}

// Register creates a new account with the default role.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Register(r.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// Delete soft-deletes a user, or removes the row when hard=true.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	mode := store.SoftDelete
	if r.URL.Query().Get("hard") == "true" {
		mode = store.HardDelete
	}
	if _, err := h.users.Delete(r.Context(), id, mode); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}
