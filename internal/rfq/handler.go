package rfq

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
)

// Handler exposes the request API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	dashboard *Dashboard
}

// NewHandler constructs a Handler. dashboard may be nil when statistics are not served.
func NewHandler(logger *slog.Logger, service *Service, dashboard *Dashboard) *Handler {
	return &Handler{logger: logger, service: service, dashboard: dashboard}
}

// MountRoutes registers request routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.update)
	r.Delete("/{id}", h.remove)
	r.Post("/{id}/send", h.markSent)
	r.Post("/{id}/complete", h.markCompleted)
}

// MountStats registers the dashboard routes on r.
func (h *Handler) MountStats(r chi.Router) {
	r.Get("/", h.stats)
	r.Get("/suppliers/{id}", h.supplierStats)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	req, replayed, err := h.service.CreateIdempotent(r.Context(), r.Header.Get("Idempotency-Key"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	w.Header().Set("Location", "/api/requests/"+req.ID)
	httpx.JSON(w, status, req)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	req, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) markSent(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.MarkSent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) markCompleted(w http.ResponseWriter, r *http.Request) {
	req, err := h.service.MarkCompleted(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.dashboard == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "statistics disabled")
		return
	}
	httpx.JSON(w, http.StatusOK, h.dashboard.Stats())
}

func (h *Handler) supplierStats(w http.ResponseWriter, r *http.Request) {
	if h.dashboard == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "statistics disabled")
		return
	}
	httpx.JSON(w, http.StatusOK, h.dashboard.Supplier(chi.URLParam(r, "id")))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (Input, bool) {
	in, err := DecodeInput(r)
	if err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	return in, true
}

// DecodeInput reads a request payload from r. Other packages serving previews use it.
func DecodeInput(r *http.Request) (Input, error) {
	var payload Payload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		return Input{}, httpx.FieldErrors{"body": "Ungültiges JSON."}
	}
	return payload.ToInput()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	RespondError(w, err)
	if status := StatusFor(err); status >= http.StatusInternalServerError {
		h.logger.Error("request api", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

// StatusFor maps request errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrNumberGeneration):
		return http.StatusServiceUnavailable
	case errors.Is(err, httpx.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, httpx.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RespondError writes err as a problem response.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrNumberGeneration):
		httpx.Problem(w, http.StatusServiceUnavailable, "Number Generation Failed", ErrNumberGeneration.Error())
	default:
		httpx.RespondError(w, err)
	}
}
