package report

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler manages capture service endpoints.
type Handler struct {
	client *Client
	logger *slog.Logger
}

// NewHandler creates a report handler.
func NewHandler(client *Client, logger *slog.Logger) *Handler {
	return &Handler{client: client, logger: logger}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.Post("/sample", h.sample)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// sample captures a fixed page so operators can check the capture path end to end.
func (h *Handler) sample(w http.ResponseWriter, r *http.Request) {
	html := []byte("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>Anfrage</title></head>" +
		"<body style=\"margin:0;width:794px\"><div id=\"request-document\" style=\"padding:40px\">" +
		"<h1>Angebotsanfrage</h1><p>Testseite</p></div></body></html>")
	png, err := h.client.Screenshot(r.Context(), html, 794)
	if err != nil {
		h.logger.Error("capture sample", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", "inline; filename=sample.png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}
