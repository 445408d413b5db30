package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/types"
)

// ImageLabelHandler provides HTTP handlers for image labels.
type ImageLabelHandler struct {
	labels *services.ImageLabelService
}

func NewImageLabelHandler(labels *services.ImageLabelService) *ImageLabelHandler {
	return &ImageLabelHandler{labels: labels}
}

func ImageLabelRouter(r chi.Router, labels *services.ImageLabelService, authn func(http.Handler) http.Handler) {
	handler := NewImageLabelHandler(labels)
	managers := RequireRoles(types.RoleRoot, types.RoleAdmin)

	r.Use(authn)
	r.Get("/", handler.List)
	r.With(managers).Post("/", handler.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.With(managers).Put("/", handler.Update)
		r.With(managers).Delete("/", handler.Delete)
	})
}

func (h *ImageLabelHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	labels, meta, err := h.labels.List(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, "image labels retrieved", labels, meta)
}

func (h *ImageLabelHandler) Get(w http.ResponseWriter, r *http.Request) {
	label, err := h.labels.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "image label retrieved", label)
}

func (h *ImageLabelHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.ImageLabelInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	label, err := h.labels.Create(r.Context(), req, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "image label created", label)
}

func (h *ImageLabelHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.ImageLabelInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	label, err := h.labels.Update(r.Context(), chi.URLParam(r, "id"), req, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "image label updated", label)
}

func (h *ImageLabelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.labels.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "image label deleted", nil)
}
