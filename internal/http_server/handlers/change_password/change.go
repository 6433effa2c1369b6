package changePassword

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"storefront_auth/internal/auth"
	"storefront_auth/internal/http_server/cookie"
	resp "storefront_auth/internal/lib/api/response"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/lib/password"
	"storefront_auth/internal/middleware/authn"
)

type Request struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required"`
}

type Response struct {
	resp.Response
	Message string `json:"message"`
}

// New changes the authenticated caller's password. On success every
// session is revoked; all devices must log in again.
func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	cookies *cookie.Writer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.changePassword.New"

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

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := authService.ChangePassword(ctx, user.ID, req.CurrentPassword, req.NewPassword); err != nil {
			var weakPass *password.ValidationError
			if errors.As(err, &weakPass) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.ErrorDetails("Password does not meet requirements", weakPass.Violations))

				return
			}

			if errors.Is(err, auth.ErrWrongPassword) {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Current password is incorrect"))

				return
			}

			log.Error("failed to change password", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("password changed", slog.Int64("uid", user.ID))

		cookies.Clear(w)

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Password changed successfully. Please login again on other devices.",
		})
	}
}
