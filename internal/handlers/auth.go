package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/types"
)

// AuthHandler provides registration, login and password reset endpoints.
type AuthHandler struct {
	users *services.UserService
}

func NewAuthHandler(users *services.UserService) *AuthHandler {
	return &AuthHandler{users: users}
}

// AuthRouter registers auth routes on the given router. limit throttles
// credential endpoints by name.
func AuthRouter(r chi.Router, users *services.UserService, limit func(name string) func(http.Handler) http.Handler) {
	handler := NewAuthHandler(users)

	r.Post("/register", handler.Register)
	r.With(limit("login")).Post("/login", handler.Login)
	r.With(limit("forgot-password")).Post("/forgot-password", handler.ForgotPassword)
	r.Post("/reset-password", handler.ResetPassword)
}

// Register creates an inspector account awaiting approval.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.users.Register(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "registration successful, awaiting approval", user)
}

type loginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

// Login verifies credentials and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req services.LoginInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	token, user, err := h.users.Login(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "login successful", loginResponse{Token: token, User: user})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req services.ForgotPasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.users.ForgotPassword(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "if the email is registered, a reset link has been sent", nil)
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req services.ResetPasswordInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.users.ResetPassword(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "password has been reset", nil)
}
