package authclient

import (
	"net/http"

	"github.com/dgellow/agrosense/internal/cookie"
	"github.com/google/uuid"
)

// headerTransport stamps every request with the client's identity headers
type headerTransport struct {
	base      http.RoundTripper
	deviceID  string
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("X-Request-ID") == "" {
		r.Header.Set("X-Request-ID", uuid.NewString())
	}
	if t.deviceID != "" {
		r.Header.Set("X-Device-ID", t.deviceID)
	}
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// cookieTransport attaches a stored session cookie
type cookieTransport struct {
	base  http.RoundTripper
	name  string
	value string
}

func (t *cookieTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	cookie.Attach(r, t.name, t.value)
	return t.base.RoundTrip(r)
}
