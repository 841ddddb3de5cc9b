package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessions(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "anfrage_session", "secret", time.Hour, false), mr
}

func commitAndCookie(t *testing.T, sm *SessionManager, sess *Session) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(context.Background(), rec, sess))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func requestWith(cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newSessions(t)
	sess, err := sm.Load(context.Background(), requestWith(nil))
	require.NoError(t, err)
	sess.SetUser("user-1")
	sess.Set("k", "v")
	sess.AddFlash(FlashMessage{Kind: "success", Message: "Willkommen"})

	cookie := commitAndCookie(t, sm, sess)
	assert.True(t, strings.HasPrefix(cookie.Value, sess.ID+"."))
	assert.True(t, mr.Exists("anfrage:session:"+sess.ID))

	loaded, err := sm.Load(context.Background(), requestWith(cookie))
	require.NoError(t, err)
	assert.Equal(t, "user-1", loaded.User())
	assert.Equal(t, "v", loaded.Get("k"))
	flash := loaded.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, "Willkommen", flash.Message)
	assert.Nil(t, loaded.PopFlash())
}

func TestUnknownSessionIDIsNotAdopted(t *testing.T) {
	sm, _ := newSessions(t)
	sess, err := sm.Load(context.Background(), requestWith(&http.Cookie{Name: "anfrage_session", Value: "forged"}))
	require.NoError(t, err)
	assert.NotEqual(t, "forged", sess.ID)
	assert.Empty(t, sess.User())
}

func TestTamperedCookieIsRejected(t *testing.T) {
	sm, _ := newSessions(t)
	sess, _ := sm.Load(context.Background(), requestWith(nil))
	sess.SetUser("user-1")
	cookie := commitAndCookie(t, sm, sess)

	id, _, _ := strings.Cut(cookie.Value, ".")
	forged := &http.Cookie{Name: cookie.Name, Value: id + ".AAAA"}
	loaded, err := sm.Load(context.Background(), requestWith(forged))
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, loaded.ID)
	assert.Empty(t, loaded.User())
}

func TestDestroyClearsCookieAndStore(t *testing.T) {
	sm, mr := newSessions(t)
	sess, _ := sm.Load(context.Background(), requestWith(nil))
	sess.SetUser("user-1")
	commitAndCookie(t, sm, sess)

	sm.Destroy(sess)
	cookie := commitAndCookie(t, sm, sess)
	assert.Equal(t, -1, cookie.MaxAge)
	assert.False(t, mr.Exists("anfrage:session:"+sess.ID))
}

func TestRenewRotatesID(t *testing.T) {
	sm, mr := newSessions(t)
	sess, _ := sm.Load(context.Background(), requestWith(nil))
	cookie := commitAndCookie(t, sm, sess)
	old := sess.ID

	loaded, err := sm.Load(context.Background(), requestWith(cookie))
	require.NoError(t, err)
	sm.Renew(loaded)
	loaded.SetUser("user-1")
	commitAndCookie(t, sm, loaded)

	assert.NotEqual(t, old, loaded.ID)
	assert.False(t, mr.Exists("anfrage:session:"+old))
	assert.True(t, mr.Exists("anfrage:session:"+loaded.ID))
}

func TestSessionExpires(t *testing.T) {
	sm, mr := newSessions(t)
	sess, _ := sm.Load(context.Background(), requestWith(nil))
	sess.SetUser("user-1")
	cookie := commitAndCookie(t, sm, sess)

	mr.FastForward(2 * time.Hour)
	loaded, err := sm.Load(context.Background(), requestWith(cookie))
	require.NoError(t, err)
	assert.Empty(t, loaded.User())
}

func TestCSRFTokens(t *testing.T) {
	m := NewCSRFManager("secret")
	sess := &Session{ID: "s1", values: map[string]string{}}

	token, err := m.EnsureToken(sess)
	require.NoError(t, err)
	again, err := m.EnsureToken(sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, m.VerifyToken(sess, token))
	assert.ErrorIs(t, m.VerifyToken(sess, "other"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, m.VerifyToken(sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, m.VerifyToken(nil, token), ErrCSRFTokenMissing)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(CSRFHeader, token)
	assert.Equal(t, token, TokenFromRequest(req))
}
