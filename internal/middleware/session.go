package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// SessionCookieName is the cookie that carries the signed session id.
const SessionCookieName = "tavern.sid"

type sessionKey struct{}

// Revoker reports session ids that were cleared and must not be reused.
type Revoker interface {
	Revoked(ctx context.Context, id string) bool
}

// sessionCookie is the signed cookie payload.
type sessionCookie struct {
	ID     string `json:"id"`
	Issued int64  `json:"iat"`
}

// SessionManager issues and verifies signed, http-only session cookies.
type SessionManager struct {
	codec   *securecookie.SecureCookie
	ttl     time.Duration
	revoked Revoker
	now     func() time.Time
}

// NewSessionManager signs cookies with secret. Cookies live for ttl and are
// reissued once half of it has passed. revoked may be nil.
func NewSessionManager(secret string, ttl time.Duration, revoked Revoker) *SessionManager {
	codec := securecookie.New([]byte(secret), nil)
	codec.MaxAge(int(ttl.Seconds()))
	codec.SetSerializer(securecookie.JSONEncoder{})
	return &SessionManager{codec: codec, ttl: ttl, revoked: revoked, now: time.Now}
}

// Middleware resolves the caller's session id and stores it in the request
// context. A new id is issued on first contact and whenever the cookie does
// not verify or names a cleared session. Set-Cookie is only sent for a new id
// or a cookie past half its lifetime, so a slow response can never restore an
// id that was cleared while it was running.
func (m *SessionManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := hlog.FromRequest(r)
		payload, ok := m.read(r)
		if ok && m.revoked != nil && m.revoked.Revoked(r.Context(), payload.ID) {
			logger.Debug().Str("old_session", payload.ID).Msg("cookie names a cleared session, issuing a new one")
			ok = false
		}

		id := payload.ID
		switch {
		case !ok:
			id = uuid.NewString()
			m.SetCookie(w, r, id)
		case m.now().Sub(time.Unix(payload.Issued, 0)) > m.ttl/2:
			m.SetCookie(w, r, id)
		}

		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("session", id)
		})
		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), id)))
	})
}

// SetCookie writes the signed cookie for id, replacing any session cookie
// already queued on the response.
func (m *SessionManager) SetCookie(w http.ResponseWriter, r *http.Request, id string) {
	value, err := m.codec.Encode(SessionCookieName, sessionCookie{ID: id, Issued: m.now().Unix()})
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to encode session cookie")
		return
	}

	dropSetCookie(w.Header(), SessionCookieName)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   isSecure(r),
		SameSite: http.SameSiteStrictMode,
	})
}

// Verify returns the session id carried by a cookie value.
func (m *SessionManager) Verify(value string) (string, bool) {
	payload, ok := m.decode(value)
	return payload.ID, ok
}

func dropSetCookie(h http.Header, name string) {
	values := h.Values("Set-Cookie")
	if len(values) == 0 {
		return
	}
	h.Del("Set-Cookie")
	for _, v := range values {
		if !strings.HasPrefix(v, name+"=") {
			h.Add("Set-Cookie", v)
		}
	}
}

func (m *SessionManager) read(r *http.Request) (sessionCookie, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return sessionCookie{}, false
	}
	return m.decode(cookie.Value)
}

func (m *SessionManager) decode(value string) (sessionCookie, bool) {
	var payload sessionCookie
	if err := m.codec.Decode(SessionCookieName, value, &payload); err != nil {
		return sessionCookie{}, false
	}
	if _, err := uuid.Parse(payload.ID); err != nil {
		return sessionCookie{}, false
	}
	return payload, true
}

// isSecure marks cookies secure for TLS requests, including TLS terminated at
// a proxy in front of the server.
func isSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// WithSessionID returns a copy of ctx carrying id.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session id stored by Middleware, or "".
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}
