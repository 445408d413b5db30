package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/types"
)

// JobHandler provides HTTP handlers for jobs.
type JobHandler struct {
	jobs *services.JobService
}

func NewJobHandler(jobs *services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// JobRouter registers job routes. Every route requires authentication;
// writes are limited to root and admin.
func JobRouter(r chi.Router, jobs *services.JobService, authn func(http.Handler) http.Handler) {
	handler := NewJobHandler(jobs)
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

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := types.JobFilter{
		PageQuery:   q,
		InspectorID: strings.TrimSpace(r.URL.Query().Get("inspector")),
		FeeStatus:   types.FeeStatus(strings.TrimSpace(r.URL.Query().Get("feeStatus"))),
	}
	jobs, meta, err := h.jobs.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, "jobs retrieved", jobs, meta)
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "job retrieved", job)
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.JobInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := h.jobs.Create(r.Context(), req, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "job created", job)
}

func (h *JobHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req services.JobInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	job, err := h.jobs.Update(r.Context(), chi.URLParam(r, "id"), req, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "job updated", job)
}

func (h *JobHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "job deleted", nil)
}
