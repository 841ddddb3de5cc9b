package export

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
	"github.com/anfrage-erp/anfrage/internal/rfq"
	"github.com/anfrage-erp/anfrage/internal/shared"
)

// Previewer builds unsaved requests from submitted input.
type Previewer interface {
	Preview(ctx context.Context, in rfq.Input, number string) (rfq.Request, error)
}

// Archiver schedules an export whose artifact is kept in object storage.
type Archiver interface {
	EnqueueArchive(ctx context.Context, requestID string) (taskID string, err error)
}

// Handler serves letter previews and PDF downloads.
type Handler struct {
	logger    *slog.Logger
	pipeline  *Pipeline
	requests  RequestSource
	previewer Previewer
	archiver  Archiver
}

// NewHandler constructs a Handler. archiver may be nil when no queue is configured.
func NewHandler(logger *slog.Logger, pipeline *Pipeline, requests RequestSource, previewer Previewer, archiver Archiver) *Handler {
	return &Handler{logger: logger, pipeline: pipeline, requests: requests, previewer: previewer, archiver: archiver}
}

// MountRoutes registers the document routes below the requests prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/letter", h.letter)
	r.Get("/{id}/export", h.export)
	r.Post("/{id}/archive", h.archive)
	r.Post("/preview/letter", h.previewLetter)
	r.Post("/preview/export", h.previewExport)
}

func (h *Handler) letter(w http.ResponseWriter, r *http.Request) {
	req, err := h.requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		rfq.RespondError(w, err)
		return
	}
	h.writeLetter(w, req)
}

func (h *Handler) previewLetter(w http.ResponseWriter, r *http.Request) {
	req, ok := h.preview(w, r)
	if !ok {
		return
	}
	h.writeLetter(w, req)
}

func (h *Handler) writeLetter(w http.ResponseWriter, req rfq.Request) {
	html, err := h.pipeline.Letter(req)
	if err != nil {
		h.logger.Error("render letter", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	sink := &BufferSink{}
	if _, err := h.pipeline.ExportByID(r.Context(), chi.URLParam(r, "id"), sink); err != nil {
		h.fail(w, err)
		return
	}
	writePDF(w, sink)
}

func (h *Handler) previewExport(w http.ResponseWriter, r *http.Request) {
	req, ok := h.preview(w, r)
	if !ok {
		return
	}
	sink := &BufferSink{}
	var owner string
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		owner = sess.ID
	}
	if _, err := h.pipeline.Export(r.Context(), &req, owner, sink); err != nil {
		h.fail(w, err)
		return
	}
	writePDF(w, sink)
}

func (h *Handler) archive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "archive queue not configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.requests.Get(r.Context(), id); err != nil {
		rfq.RespondError(w, err)
		return
	}
	taskID, err := h.archiver.EnqueueArchive(r.Context(), id)
	if err != nil {
		h.logger.Error("enqueue archive", slog.String("request", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "archive could not be scheduled")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"task": taskID})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) (rfq.Request, bool) {
	in, err := rfq.DecodeInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return rfq.Request{}, false
	}
	req, err := h.previewer.Preview(r.Context(), in, r.URL.Query().Get("number"))
	if err != nil {
		rfq.RespondError(w, err)
		return rfq.Request{}, false
	}
	return req, true
}

func writePDF(w http.ResponseWriter, sink *BufferSink) {
	name, data := sink.Artifact()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StatusFor maps export errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrRequestUnavailable):
		return http.StatusNotFound
	case errors.Is(err, ErrTargetMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrCapture):
		return http.StatusBadGateway
	case errors.Is(err, ErrExportInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	title := http.StatusText(status)
	detail := err.Error()
	switch {
	case errors.Is(err, ErrSerialize):
		detail = ErrSerialize.Error()
	case errors.Is(err, ErrSave):
		detail = ErrSave.Error()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("export", slog.Any("error", err))
	}
	httpx.Problem(w, status, title, detail)
}
