package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/siteinspect/apiserver/internal/apperror"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/types"
)

const (
	maxMultipartMemory = 8 << 20
	formFieldData      = "data"
	formFieldImages    = "images"
)

// ReportHandler provides HTTP handlers for reports.
type ReportHandler struct {
	reports        *services.ReportService
	maxUploadBytes int64
}

func NewReportHandler(reports *services.ReportService, maxUploadBytes int64) *ReportHandler {
	return &ReportHandler{reports: reports, maxUploadBytes: maxUploadBytes}
}

// ReportRouter registers report routes. Inspectors create reports; root and
// admin review, transition and delete them.
func ReportRouter(r chi.Router, reports *services.ReportService, maxUploadBytes int64, authn func(http.Handler) http.Handler) {
	handler := NewReportHandler(reports, maxUploadBytes)
	managers := RequireRoles(types.RoleRoot, types.RoleAdmin)

	r.Use(authn)
	r.Get("/", handler.List)
	r.With(RequireRoles(types.RoleInspector)).Post("/", handler.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", handler.Get)
		r.With(RequireRoles(types.RoleRoot, types.RoleAdmin, types.RoleInspector)).Put("/", handler.Update)
		r.With(managers).Patch("/status", handler.UpdateStatus)
		r.With(managers).Delete("/", handler.Delete)
	})
}

func (h *ReportHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	q, err := pageQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter := types.ReportFilter{
		PageQuery:   q,
		InspectorID: strings.TrimSpace(r.URL.Query().Get("inspector")),
		JobID:       strings.TrimSpace(r.URL.Query().Get("job")),
		Status:      types.ReportStatus(strings.TrimSpace(r.URL.Query().Get("status"))),
	}
	reports, meta, err := h.reports.List(r.Context(), filter, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, "reports retrieved", reports, meta)
}

func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	report, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "report retrieved", report)
}

func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	input, err := h.readReport(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.reports.Create(r.Context(), input, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, "report created", report)
}

func (h *ReportHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	input, err := h.readReport(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.reports.Update(r.Context(), chi.URLParam(r, "id"), input, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "report updated", report)
}

type statusRequest struct {
	Status types.ReportStatus `json:"status"`
}

func (h *ReportHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	report, err := h.reports.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "report status updated", report)
}

func (h *ReportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, "report deleted", nil)
}

// reportImagePayload marks images whose bytes arrive as multipart files.
type reportImagePayload struct {
	services.ImageInput
	File bool `json:"file"`
}

type reportPayload struct {
	JobID  string               `json:"job"`
	Notes  string               `json:"notes"`
	Images []reportImagePayload `json:"images"`
}

// readReport accepts either a JSON body with base64 image content or a
// multipart form whose "data" field holds the JSON and whose "images" files
// fill, in order, the images flagged with "file": true.
func (h *ReportHandler) readReport(w http.ResponseWriter, r *http.Request) (services.ReportInput, error) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var payload reportPayload
	var files []*multipart.FileHeader
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return services.ReportInput{}, apperror.Field("body", "request body is too large")
			}
			return services.ReportInput{}, apperror.Field("body", "invalid multipart form")
		}
		data := r.FormValue(formFieldData)
		if strings.TrimSpace(data) == "" {
			return services.ReportInput{}, apperror.Field(formFieldData, "is required")
		}
		if err := json.Unmarshal([]byte(data), &payload); err != nil {
			return services.ReportInput{}, apperror.Field(formFieldData, "invalid JSON")
		}
		files = r.MultipartForm.File[formFieldImages]
	} else if err := decodeJSON(r, &payload); err != nil {
		return services.ReportInput{}, err
	}

	input := services.ReportInput{
		JobID:  payload.JobID,
		Notes:  payload.Notes,
		Images: make([]services.ImageInput, 0, len(payload.Images)),
	}
	next := 0
	for i, img := range payload.Images {
		if img.File {
			if next >= len(files) {
				return services.ReportInput{}, apperror.Field(fmt.Sprintf("images[%d]", i), "no file uploaded for this image")
			}
			content, err := readFile(files[next])
			if err != nil {
				return services.ReportInput{}, err
			}
			img.Content = content
			if img.FileName == "" {
				img.FileName = files[next].Filename
			}
			next++
		}
		input.Images = append(input.Images, img.ImageInput)
	}
	if next != len(files) {
		return services.ReportInput{}, apperror.Field(formFieldImages, "more files than images marked as file")
	}
	return input, nil
}

func readFile(header *multipart.FileHeader) ([]byte, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}
	if len(content) == 0 {
		return nil, apperror.Field(formFieldImages, header.Filename+" is empty")
	}
	return content, nil
}
