package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/types"
)

// UserHandler provides profile and account administration endpoints.
type UserHandler struct {
	users *services.UserService
}

func NewUserHandler(users *services.UserService) *UserHandler {
	return &UserHandler{users: users}
}

func UserRouter(r chi.Router, users *services.UserService, authn func(http.Handler) http.Handler) {
	handler := NewUserHandler(users)
	managers := RequireRoles(types.RoleRoot, types.RoleAdmin)

	r.Use(authn)
	r.Get("/profile", handler.Profile)
	r.Put("/profile", handler.UpdateProfile)
	r.With(managers).Get("/", handler.List)
	r.Route("/{id}", func(r chi.Router) {
		r.With(managers).Get("/", handler.Get)
		r.With(managers).Patch("/approve", handler.Approve)
		r.With(managers).Patch("/suspend", handler.Suspend)
		r.With(managers).Patch("/unsuspend", handler.Unsuspend)
		r.With(RequireRoles(types.RoleRoot)).Delete("/", handler.Delete)
	})
}

func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, "profile retrieved", actor)
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.ProfileInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.users.UpdateProfile(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "profile updated", user)
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := types.UserFilter{PageQuery: q}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("role")); raw != "" {
		code, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, r, apperror.Field("role", "must be 0, 1 or 2"))
			return
		}
		role, err := types.RoleFromCode(code)
		if err != nil {
			writeError(w, r, apperror.Field("role", "must be 0, 1 or 2"))
			return
		}
		filter.Role = role
	}
	if filter.IsApproved, err = queryBool(query.Get("isApproved"), "isApproved"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.IsSuspended, err = queryBool(query.Get("isSuspended"), "isSuspended"); err != nil {
		writeError(w, r, err)
		return
	}

	users, meta, err := h.users.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, "users retrieved", users, meta)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user retrieved", user)
}

func (h *UserHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.users.Approve, "user approved")
}

func (h *UserHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.users.Suspend, "user suspended")
}

func (h *UserHandler) Unsuspend(w http.ResponseWriter, r *http.Request) {
	h.moderate(w, r, h.users.Unsuspend, "user unsuspended")
}

type moderation func(ctx context.Context, id string, actor types.User) (types.User, error)

func (h *UserHandler) moderate(w http.ResponseWriter, r *http.Request, action moderation, message string) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	user, err := action(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, message, user)
}

func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.users.Delete(r.Context(), chi.URLParam(r, "id"), actor); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "user deleted", nil)
}
