// Package identity tells chat panels apart without accounts. A device is
// named by a long-lived cookie, a panel (browser tab) by a session id the
// page sends with every request.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AnonCookieName        = "edu_anon_id"
	SessionHeaderName     = "X-Chat-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"

	devicePrefix    = "anon_"
	deviceCookieAge = 30 * 24 * time.Hour
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Identity is the device and panel a request comes from.
type Identity struct {
	UserID    string
	SessionID string
}

type contextKey struct{}

// WithIdentity returns ctx carrying userID and a sanitized sessionID.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, contextKey{}, Identity{
		UserID:    userID,
		SessionID: sanitizeSessionID(sessionID),
	})
}

// FromContext returns the identity set by Middleware. SessionID falls back
// to the default panel.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(contextKey{}).(Identity); ok {
		return id
	}
	return Identity{SessionID: DefaultSessionIDValue}
}

// UserIDFromContext returns the device id, or "" outside Middleware.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// SessionIDFromContext returns the panel id.
func SessionIDFromContext(ctx context.Context) string {
	return FromContext(ctx).SessionID
}

func newDeviceID() string {
	return devicePrefix + uuid.NewString()
}

func isDeviceID(v string) bool {
	rest, ok := strings.CutPrefix(v, devicePrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// deviceID reuses a well-formed cookie or mints a new one. The cookie is
// written back either way so its expiry slides.
func deviceID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isDeviceID(c.Value) {
		id = c.Value
	} else {
		id = newDeviceID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id
}

func sessionIDFromRequest(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	// Browsers cannot set headers on a websocket upgrade.
	return r.URL.Query().Get(SessionQueryParam)
}

// Middleware attaches the device and panel identity to every request.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithIdentity(r.Context(), deviceID(w, r, isDev), sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
