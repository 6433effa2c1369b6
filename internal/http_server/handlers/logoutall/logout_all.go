package logoutAll

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"storefront_auth/internal/auth"
	"storefront_auth/internal/http_server/cookie"
	resp "storefront_auth/internal/lib/api/response"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/middleware/authn"
)

type Response struct {
	resp.Response
}

// New revokes every active session of the authenticated caller. Used after
// a suspected credential leak or from the "active devices" screen.
func New(
	log *slog.Logger,
	authService *auth.Auth,
	cookies *cookie.Writer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.logoutAll.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		user, ok := authn.UserFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, resp.Error("Access token required"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := authService.LogoutAll(ctx, user.ID); err != nil {
			log.Error("failed to logout everywhere", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("user logged out everywhere", slog.Int64("uid", user.ID))

		cookies.Clear(w)

		render.JSON(w, r, Response{
			Response: resp.OK(),
		})
	}
}
