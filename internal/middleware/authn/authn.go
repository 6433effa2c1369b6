package authn

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"

	"storefront_auth/internal/http_server/cookie"
	resp "storefront_auth/internal/lib/api/response"
	"storefront_auth/internal/lib/jwt"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/models"
	"storefront_auth/internal/storage"
)

type contextKey string

const userKey contextKey = "authn.user"

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
}

// UserFromContext returns the authenticated user placed by Middleware.
func UserFromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok
}

// Middleware authenticates requests from the auth_token cookie, falling
// back to a Bearer header for non-browser clients. Locked accounts are
// rejected even with a valid token.
func Middleware(
	log *slog.Logger,
	tokens *jwt.Manager,
	users UserProvider,
	cookies *cookie.Writer,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middleware.authn"

			log := log.With(slog.String("op", op))

			token := tokenFromRequest(r)
			if token == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Access token required"))

				return
			}

			userID, err := tokens.VerifyAccess(token)
			if err != nil {
				cookies.Clear(w)

				if errors.Is(err, jwt.ErrTokenExpired) {
					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("Token expired"))

					return
				}

				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid token"))

				return
			}

			user, err := users.UserByID(r.Context(), userID)
			if err != nil {
				if errors.Is(err, storage.ErrUserNotFound) {
					cookies.Clear(w)

					render.Status(r, http.StatusUnauthorized)
					render.JSON(w, r, resp.Error("Invalid token"))

					return
				}

				log.Error("failed to load user", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))

				return
			}

			if user.IsLocked(time.Now()) {
				render.Status(r, http.StatusLocked)
				render.JSON(w, r, resp.Error("Account temporarily locked"))

				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(cookie.Name); err == nil && c.Value != "" {
		return c.Value
	}

	authHeader := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return after
	}

	return ""
}
