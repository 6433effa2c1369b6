package device

import (
	"net"
	"net/http"

	"storefront_auth/internal/models"
)

// FromRequest captures the device metadata stored on a session. RemoteAddr
// is already the client address when the router runs behind RealIP.
func FromRequest(r *http.Request) models.DeviceInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	ua := r.UserAgent()
	if ua == "" {
		ua = "Unknown"
	}

	return models.DeviceInfo{
		IP:        ip,
		UserAgent: ua,
	}
}
