package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"storefront_auth/internal/auth"
	"storefront_auth/internal/http_server/cookie"
	"storefront_auth/internal/http_server/device"
	resp "storefront_auth/internal/lib/api/response"
	sl "storefront_auth/internal/lib/logger"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
	Pass  string `json:"password" validate:"required"`
}

type User struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	FirstName     string `json:"firstName"`
	LastName      string `json:"lastName"`
	EmailVerified bool   `json:"emailVerified"`
}

type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	SessionToken string `json:"sessionToken"`
}

type Response struct {
	resp.Response
	User                      User   `json:"user"`
	Tokens                    Tokens `json:"tokens"`
	RequiresEmailVerification bool   `json:"requiresEmailVerification,omitempty"`
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	authService *auth.Auth,
	cookies *cookie.Writer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

		log = log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("Failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		log.Info("Request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("Invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := authService.Login(ctx, req.Email, req.Pass, device.FromRequest(r))
		if err != nil {
			var locked *auth.LockedError
			if errors.As(err, &locked) {
				minutes := int(math.Ceil(time.Until(locked.Until).Minutes()))

				render.Status(r, http.StatusLocked)
				render.JSON(w, r, resp.Error(
					fmt.Sprintf("Account is locked. Try again in %d minutes", minutes),
				))

				return
			}

			if errors.Is(err, auth.ErrMissingCredentials) || errors.Is(err, auth.ErrInvalidEmail) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error(err.Error()))

				return
			}

			if errors.Is(err, auth.ErrInvalidCredentials) {
				// Same text for unknown email and wrong password, so the
				// endpoint cannot be used to enumerate accounts.
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid email or password"))

				return
			}

			log.Error("failed to login user", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("User logged in successfully")

		cookies.Set(w, result.Tokens.AccessToken)

		render.JSON(w, r, Response{
			Response: resp.OK(),
			User: User{
				ID:            result.User.ID,
				Email:         result.User.Email,
				FirstName:     result.User.FirstName,
				LastName:      result.User.LastName,
				EmailVerified: result.User.EmailVerified,
			},
			Tokens: Tokens{
				AccessToken:  result.Tokens.AccessToken,
				RefreshToken: result.Tokens.RefreshToken,
				SessionToken: result.Session.SessionToken,
			},
			RequiresEmailVerification: result.RequiresEmailVerification,
		})
	}
}
