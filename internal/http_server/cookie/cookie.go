package cookie

import (
	"net/http"
	"time"
)

// Name of the HTTP-only cookie carrying the access token. The cookie
// merely transports the token: its max-age is longer than the token's
// embedded expiry and does not extend the token's validity.
const Name = "auth_token"

type Writer struct {
	maxAge    time.Duration
	crossSite bool
}

func NewWriter(maxAge time.Duration, crossSite bool) *Writer {
	return &Writer{
		maxAge:    maxAge,
		crossSite: crossSite,
	}
}

// Set delivers the access token. Cross-site deployments need
// SameSite=None, which browsers only accept together with Secure.
func (cw *Writer) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     Name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cw.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   cw.crossSite,
		SameSite: cw.sameSite(),
	})
}

// Clear expires the cookie with the same attributes it was set with.
func (cw *Writer) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     Name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cw.crossSite,
		SameSite: cw.sameSite(),
	})
}

func (cw *Writer) sameSite() http.SameSite {
	if cw.crossSite {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}
