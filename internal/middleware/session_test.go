package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type revokedSet map[string]bool

func (s revokedSet) Revoked(_ context.Context, id string) bool { return s[id] }

// serve 执行一次请求，返回处理器看到的会话 ID 和响应中的会话 cookie（可能为 nil）
func serve(t *testing.T, m *SessionManager, req *http.Request) (string, *http.Cookie) {
	t.Helper()
	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionID(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	require.LessOrEqual(t, len(cookies), 1)
	if len(cookies) == 0 {
		return seen, nil
	}
	return seen, cookies[0]
}

func TestSessionMiddlewareIssuesCookie(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	id, cookie := serve(t, m, httptest.NewRequest(http.MethodGet, "/history", nil))

	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotNil(t, cookie)
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.False(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)

	verified, ok := m.Verify(cookie.Value)
	require.True(t, ok)
	assert.Equal(t, id, verified)
}

func TestSessionMiddlewareReusesValidCookieWithoutResending(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	id, cookie := serve(t, m, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, cookie)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	again, resent := serve(t, m, req)
	assert.Equal(t, id, again)
	assert.Nil(t, resent, "a fresh valid cookie must not be sent back")
}

func TestSessionMiddlewareRefreshesAgingCookie(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	issued := time.Now().Add(-40 * time.Minute)
	m.now = func() time.Time { return issued }
	id, cookie := serve(t, m, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, cookie)

	m.now = time.Now
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	again, refreshed := serve(t, m, req)
	assert.Equal(t, id, again)
	require.NotNil(t, refreshed)

	verified, ok := m.Verify(refreshed.Value)
	require.True(t, ok)
	assert.Equal(t, id, verified)
}

func TestSessionMiddlewareRejectsTamperedCookie(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	id, cookie := serve(t, m, httptest.NewRequest(http.MethodGet, "/", nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: cookie.Value[:len(cookie.Value)-2] + "xx"})
	got, reissued := serve(t, m, req)
	assert.NotEqual(t, id, got)
	assert.NotNil(t, reissued)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
	got, _ = serve(t, m, req)
	assert.NotEqual(t, id, got)

	other := NewSessionManager("other-secret", time.Hour, nil)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	got, _ = serve(t, other, req)
	assert.NotEqual(t, id, got)
}

func TestSessionMiddlewareReplacesRevokedSession(t *testing.T) {
	revoked := revokedSet{}
	m := NewSessionManager("secret", time.Hour, revoked)
	id, cookie := serve(t, m, httptest.NewRequest(http.MethodGet, "/", nil))
	revoked[id] = true

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	got, fresh := serve(t, m, req)
	assert.NotEqual(t, id, got)
	require.NotNil(t, fresh)

	verified, ok := m.Verify(fresh.Value)
	require.True(t, ok)
	assert.Equal(t, got, verified)
}

func TestSessionCookieSecureBehindTLS(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	_, cookie := serve(t, m, req)
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	_, cookie = serve(t, m, req)
	require.NotNil(t, cookie)
	assert.True(t, cookie.Secure)
}

func TestSetCookieReplacesQueuedSessionCookie(t *testing.T) {
	m := NewSessionManager("secret", time.Hour, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	http.SetCookie(rec, &http.Cookie{Name: "other", Value: "1"})

	first, second := uuid.NewString(), uuid.NewString()
	m.SetCookie(rec, req, first)
	m.SetCookie(rec, req, second)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	assert.Equal(t, "other", cookies[0].Name)
	assert.Equal(t, SessionCookieName, cookies[1].Name)

	got, ok := m.Verify(cookies[1].Value)
	require.True(t, ok)
	assert.Equal(t, second, got)
}
