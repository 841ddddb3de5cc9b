package auth_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anfrage-erp/anfrage/internal/auth"
	"github.com/anfrage-erp/anfrage/internal/docstore"
	"github.com/anfrage-erp/anfrage/internal/shared"
	"github.com/anfrage-erp/anfrage/internal/view"
)

type authFixture struct {
	server *httptest.Server
	client *http.Client
	store  *docstore.Memory
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	store := docstore.NewMemory()
	service := auth.NewService(auth.NewRepository(store))
	_, err := service.CreateUser(context.Background(), "Einkauf@Example.ch", "Einkauf", "correctpass")
	require.NoError(t, err)

	sessions := shared.NewSessionManager(redisClient, "test_session", "secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)
	handler := auth.NewHandler(nil, service, templates, sessions, csrf)

	r := chi.NewRouter()
	r.Use(shared.SessionMiddleware(sessions, nil))
	r.Use(shared.CSRFMiddleware(csrf, nil))
	r.Route("/auth", handler.MountRoutes)
	r.With(handler.RequireUser).Get("/api/me", func(w http.ResponseWriter, r *http.Request) {
		user, _ := shared.UserFromContext(r.Context())
		_, _ = w.Write([]byte(user.Email))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &authFixture{server: srv, client: client, store: store}
}

func (f *authFixture) session(t *testing.T) map[string]any {
	t.Helper()
	res, err := f.client.Get(f.server.URL + "/auth/session")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func (f *authFixture) loginJSON(t *testing.T, token, email, password string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/auth/login", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(shared.CSRFHeader, token)
	res, err := f.client.Do(req)
	require.NoError(t, err)
	return res
}

func TestLoginPage(t *testing.T) {
	f := newAuthFixture(t)
	res, err := f.client.Get(f.server.URL + "/auth/login")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, res.Body)
	assert.Contains(t, buf.String(), "<form")
	assert.NotEmpty(t, res.Cookies())
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newAuthFixture(t)
	token := f.session(t)["csrfToken"].(string)

	form := url.Values{"email": {"einkauf@example.ch"}, "password": {"wrongpass"}, "csrf_token": {token}}
	res, err := f.client.PostForm(f.server.URL+"/auth/login", form)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, res.Body)
	assert.Contains(t, buf.String(), "E-Mail oder Passwort ungültig")
}

func TestLoginRequiresCSRFToken(t *testing.T) {
	f := newAuthFixture(t)
	f.session(t)
	res := f.loginJSON(t, "", "einkauf@example.ch", "correctpass")
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestLoginJSONFlow(t *testing.T) {
	f := newAuthFixture(t)

	res, err := f.client.Get(f.server.URL + "/api/me")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token := f.session(t)["csrfToken"].(string)
	res = f.loginJSON(t, token, "EINKAUF@example.ch", "correctpass")
	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body["authenticated"])
	newToken := body["csrfToken"].(string)
	assert.NotEqual(t, token, newToken)

	sessions, err := f.store.Query(context.Background(), docstore.CollectionSessions, docstore.Query{})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	res, err = f.client.Get(f.server.URL + "/api/me")
	require.NoError(t, err)
	buf := new(strings.Builder)
	_, _ = io.Copy(buf, res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "einkauf@example.ch", buf.String())

	req, _ := http.NewRequest(http.MethodPost, f.server.URL+"/auth/logout", nil)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(shared.CSRFHeader, newToken)
	res, err = f.client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	res, err = f.client.Get(f.server.URL + "/api/me")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	sessions, err = f.store.Query(context.Background(), docstore.CollectionSessions, docstore.Query{})
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestLoginValidation(t *testing.T) {
	f := newAuthFixture(t)
	token := f.session(t)["csrfToken"].(string)
	res := f.loginJSON(t, token, "not-an-email", "short")
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var problem struct {
		Errors map[string]string `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&problem))
	assert.Contains(t, problem.Errors, "email")
	assert.Contains(t, problem.Errors, "password")
}

func TestDuplicateUser(t *testing.T) {
	store := docstore.NewMemory()
	service := auth.NewService(auth.NewRepository(store))
	_, err := service.CreateUser(context.Background(), "a@b.ch", "A", "password1")
	require.NoError(t, err)
	_, err = service.CreateUser(context.Background(), " A@B.ch", "A", "password1")
	assert.ErrorIs(t, err, docstore.ErrDuplicate)
}
