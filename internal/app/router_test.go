package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfrage-erp/anfrage/internal/auth"
	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/export"
	"github.com/anfrage-erp/anfrage/internal/feed"
	"github.com/anfrage-erp/anfrage/internal/observability"
	"github.com/anfrage-erp/anfrage/internal/rfq"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/supplier"
	"github.com/anfrage-erp/anfrage/internal/view"
	"github.com/anfrage-erp/anfrage/jobs"
)

type appFixture struct {
	server *httptest.Server
	client *http.Client
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &Config{
		StoreDriver:        StoreMemory,
		SessionSecret:      "session",
		CSRFSecret:         "csrf",
		ExportScale:        2,
		ExportLockTTL:      time.Minute,
		AppRequestTimeout:  5 * time.Second,
		RateLimitPerMinute: 1000,
	}

	store := docstore.NewMemory()
	metrics := observability.NewMetrics()
	services, err := NewServices(cfg, logger, store, nil, metrics)
	require.NoError(t, err)
	require.NoError(t, services.StartMirrors(ctx))
	t.Cleanup(services.StopMirrors)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })
	sessions := shared.NewSessionManager(redisClient, "anfrage_session", cfg.SessionSecret, time.Hour, false)
	csrf := shared.NewCSRFManager(cfg.CSRFSecret)
	templates, err := view.NewEngine()
	require.NoError(t, err)

	authService := auth.NewService(auth.NewRepository(store))
	_, err = authService.CreateUser(ctx, "admin@anfrage.local", "Admin", "secretpass")
	require.NoError(t, err)

	hub := feed.NewHub(logger)
	feed.Attach(hub, "requests", services.RequestMirror)

	router := NewRouter(RouterParams{
		Logger:          logger,
		Config:          cfg,
		Templates:       templates,
		SessionManager:  sessions,
		CSRFManager:     csrf,
		Dashboard:       services.Dashboard,
		AuthHandler:     auth.NewHandler(logger, authService, templates, sessions, csrf),
		SupplierHandler: supplier.NewHandler(logger, services.Suppliers),
		RequestHandler:  rfq.NewHandler(logger, services.Requests, services.Dashboard),
		ExportHandler:   export.NewHandler(logger, services.Pipeline, services.Requests, services.Requests, nil),
		FeedHandler:     feed.NewHandler(hub, logger, nil),
		JobHandler:      jobs.NewHandler(nil, logger),
		Metrics:         metrics,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &appFixture{server: srv, client: client}
}

func (f *appFixture) csrfToken(t *testing.T) string {
	t.Helper()
	res, err := f.client.Get(f.server.URL + "/auth/session")
	require.NoError(t, err)
	defer res.Body.Close()
	var out struct {
		CSRFToken string `json:"csrfToken"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out.CSRFToken
}

func (f *appFixture) postJSON(t *testing.T, path, token string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(shared.CSRFHeader, token)
	res, err := f.client.Do(req)
	require.NoError(t, err)
	return res
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAppFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := f.client.Get(f.server.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, http.StatusOK, res.StatusCode, path)
		assert.Equal(t, "DENY", res.Header.Get("X-Frame-Options"), path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAppFixture(t)
	res, err := f.client.Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHomeRedirectsAnonymous(t *testing.T) {
	f := newAppFixture(t)
	res, err := f.client.Get(f.server.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/auth/login", res.Header.Get("Location"))
}

func TestAPIRequiresLogin(t *testing.T) {
	f := newAppFixture(t)
	res, err := f.client.Get(f.server.URL + "/api/suppliers")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestAuthenticatedSupplierFlow(t *testing.T) {
	f := newAppFixture(t)
	token := f.csrfToken(t)

	res := f.postJSON(t, "/auth/login", token, map[string]string{"email": "admin@anfrage.local", "password": "secretpass"})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	// Login rotates the CSRF token.
	token = f.csrfToken(t)
	res = f.postJSON(t, "/api/suppliers", token, map[string]string{
		"name":          "Müller GmbH",
		"contactPerson": "Anna Müller",
		"email":         "anna@mueller.de",
		"phone":         "+49 89 1234567",
		"address":       "Hauptstraße 1, 80331 München",
		"country":       "Deutschland",
	})
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	res, err := f.client.Get(f.server.URL + "/api/suppliers")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var items []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Müller GmbH", items[0]["name"])

	res, err = f.client.Get(f.server.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	f := newAppFixture(t)
	token := f.csrfToken(t)
	res := f.postJSON(t, "/auth/login", token, map[string]string{"email": "admin@anfrage.local", "password": "secretpass"})
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err := f.client.Get(f.server.URL + "/api/jobs/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
