package report

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenshotPostsIndexHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/screenshot/html", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, r.ParseMultipartForm(10<<20))

		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "index.html", header.Filename)
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "<p>hallo</p>", string(content))

		assert.Equal(t, "1588", r.FormValue("width"))
		assert.Equal(t, "png", r.FormValue("format"))
		assert.Equal(t, "false", r.FormValue("clip"))
		_, _ = w.Write([]byte("PNG"))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL+"/").Screenshot(context.Background(), []byte("<p>hallo</p>"), 1588)
	require.NoError(t, err)
	assert.Equal(t, "PNG", string(out))
}

func TestScreenshotErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Screenshot(context.Background(), []byte("x"), 794)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	_, err = NewClient("").Screenshot(context.Background(), []byte("x"), 794)
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestScreenshotSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	client.maxBytes = 10
	out, err := client.Screenshot(context.Background(), []byte("x"), 794)
	require.NoError(t, err)
	assert.Len(t, out, 10)

	client.maxBytes = 9
	_, err = client.Screenshot(context.Background(), []byte("x"), 794)
	require.ErrorIs(t, err, ErrScreenshotTooLarge)
}

func TestPingHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := chi.NewRouter()
	r.Route("/reports", NewHandler(NewClient(srv.URL), slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	down := chi.NewRouter()
	down.Route("/reports", NewHandler(NewClient(""), slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes)
	rec = httptest.NewRecorder()
	down.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/ping", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
