package cookie

import (
	"net/http"
	"strings"

	"github.com/dgellow/agrosense/internal/log"
)

// DefaultSessionName is the cookie the backend sets after OTP verification
const DefaultSessionName = "session"

// FromResponse returns the named cookie set by the response. An empty or
// expired cookie counts as absent.
func FromResponse(resp *http.Response, name string) (*http.Cookie, bool) {
	for _, c := range resp.Cookies() {
		if c.Name != name {
			continue
		}
		if c.Value == "" || c.MaxAge < 0 {
			return nil, false
		}
		log.LogTraceWithFields("cookie", "Session cookie received", map[string]any{
			"name":     c.Name,
			"secure":   c.Secure,
			"httpOnly": c.HttpOnly,
		})
		return c, true
	}
	return nil, false
}

// Encode renders a cookie as name=value, the form kept in secure storage
func Encode(name, value string) string {
	return name + "=" + value
}

// Decode splits a stored name=value pair
func Decode(s string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(s, "=")
	if !ok || name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

// Attach adds the session cookie to an outgoing request
func Attach(r *http.Request, name, value string) {
	r.AddCookie(&http.Cookie{Name: name, Value: value})
}
