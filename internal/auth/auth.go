package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront_auth/internal/lib/jwt"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/lib/password"
	"storefront_auth/internal/models"
	"storefront_auth/internal/storage"
)

var (
	ErrMissingFields      = errors.New("all fields are required")
	ErrMissingCredentials = errors.New("email and password are required")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWrongPassword      = errors.New("current password is incorrect")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// LockedError reports a lockout together with the unlock time, so the
// transport layer can tell the caller how long to wait.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account is locked"
}

// UserStorage is everything the façade needs from the user table. The
// token-consuming methods are single conditional updates: consumption is
// exactly-once even under concurrent submissions of the same token.
type UserStorage interface {
	SaveUser(ctx context.Context, user models.User) (models.User, error)
	UserByEmail(ctx context.Context, email string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	RecordLoginFailure(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error
	RecordLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, newPassHash []byte) error
	SetVerificationToken(ctx context.Context, email, token string) (models.User, error)
	ConsumeVerificationToken(ctx context.Context, token string) (models.User, error)
	SetPasswordResetToken(ctx context.Context, email, token string, expiresAt time.Time) (models.User, error)
	ConsumePasswordResetToken(ctx context.Context, token string, newPassHash []byte) (models.User, error)
}

// Sessions is the slice of the session store the façade drives.
type Sessions interface {
	Create(ctx context.Context, userID int64, device models.DeviceInfo) (models.Session, models.TokenPair, error)
	Rotate(ctx context.Context, refreshToken string) (models.Session, models.TokenPair, error)
	Deactivate(ctx context.Context, refreshToken string) error
	DeactivateAll(ctx context.Context, userID int64) error
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

// Auth orchestrates credentials, lockout, sessions and the one-time token
// flows into the register/login/refresh/logout/verify/reset use cases.
type Auth struct {
	log              *slog.Logger
	users            UserStorage
	sessions         Sessions
	publisher        Publisher
	bcryptCost       int
	maxLoginAttempts int
	lockDuration     time.Duration
	resetTokenTTL    time.Duration
	publicURL        string
}

func New(
	log *slog.Logger,
	users UserStorage,
	sessions Sessions,
	publisher Publisher,
	bcryptCost int,
	maxLoginAttempts int,
	lockDuration time.Duration,
	resetTokenTTL time.Duration,
	publicURL string,
) *Auth {
	return &Auth{
		log:              log,
		users:            users,
		sessions:         sessions,
		publisher:        publisher,
		bcryptCost:       bcryptCost,
		maxLoginAttempts: maxLoginAttempts,
		lockDuration:     lockDuration,
		resetTokenTTL:    resetTokenTTL,
		publicURL:        publicURL,
	}
}

type RegisterParams struct {
	Email            string
	Password         string
	FirstName        string
	LastName         string
	MarketingConsent bool
}

// Result is what a successful register/login/refresh hands back to the
// transport layer: the user, the device session and the signed token pair.
type Result struct {
	User                      models.User
	Session                   models.Session
	Tokens                    models.TokenPair
	RequiresEmailVerification bool
}

// Register creates the user, opens the first device session and queues the
// verification email.
func (a *Auth) Register(ctx context.Context, params RegisterParams, device models.DeviceInfo) (Result, error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op))

	email := strings.ToLower(strings.TrimSpace(params.Email))
	firstName := strings.TrimSpace(params.FirstName)
	lastName := strings.TrimSpace(params.LastName)

	if email == "" || params.Password == "" || firstName == "" || lastName == "" {
		return Result{}, ErrMissingFields
	}

	if !password.ValidEmail(email) {
		return Result{}, ErrInvalidEmail
	}

	if err := password.Validate(params.Password); err != nil {
		return Result{}, err
	}

	passHash, err := password.Hash(params.Password, a.bcryptCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	verificationToken, err := jwt.NewOpaqueToken(jwt.OneTimeTokenBytes)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.SaveUser(ctx, models.User{
		Email:                  email,
		PassHash:               passHash,
		FirstName:              firstName,
		LastName:               lastName,
		EmailVerificationToken: &verificationToken,
		MarketingConsent:       params.MarketingConsent,
	})
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists")
			return Result{}, ErrUserExists
		}

		log.Error("failed to save user", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	sess, pair, err := a.sessions.Create(ctx, user.ID, device)
	if err != nil {
		log.Error("failed to create session", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	a.sendTokenLink(ctx, email, verificationToken, models.PurposeEmailVerification)

	log.Info("user registered", slog.Int64("uid", user.ID))

	return Result{
		User:                      user,
		Session:                   sess,
		Tokens:                    pair,
		RequiresEmailVerification: true,
	}, nil
}

// Login checks credentials under the lockout guard and opens a session.
func (a *Auth) Login(ctx context.Context, email, pass string, device models.DeviceInfo) (Result, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op))

	email = strings.ToLower(strings.TrimSpace(email))

	if email == "" || pass == "" {
		return Result{}, ErrMissingCredentials
	}

	if !password.ValidEmail(email) {
		return Result{}, ErrInvalidEmail
	}

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found")
			return Result{}, ErrInvalidCredentials
		}

		log.Error("failed to get user", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	// While the lock window is open the password hash is never consulted
	// and the attempt counter stays untouched.
	if user.IsLocked(now) {
		log.Warn("login attempt on locked account", slog.Int64("uid", user.ID))
		return Result{}, &LockedError{Until: *user.LockedUntil}
	}

	if !password.Compare(pass, user.PassHash) {
		attempts := user.LoginAttempts + 1

		var lockedUntil *time.Time
		if attempts >= a.maxLoginAttempts {
			until := now.Add(a.lockDuration)
			lockedUntil = &until
		}

		if err := a.users.RecordLoginFailure(ctx, user.ID, attempts, lockedUntil); err != nil {
			log.Error("failed to record login failure", sl.Err(err))
		}

		if lockedUntil != nil {
			log.Warn("account locked after repeated failures", slog.Int64("uid", user.ID))
			return Result{}, &LockedError{Until: *lockedUntil}
		}

		return Result{}, ErrInvalidCredentials
	}

	if err := a.users.RecordLogin(ctx, user.ID, now); err != nil {
		log.Error("failed to record login", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	user.LoginAttempts = 0
	user.LockedUntil = nil
	user.LastLogin = &now

	sess, pair, err := a.sessions.Create(ctx, user.ID, device)
	if err != nil {
		log.Error("failed to create session", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.Int64("uid", user.ID))

	return Result{
		User:                      user,
		Session:                   sess,
		Tokens:                    pair,
		RequiresEmailVerification: !user.EmailVerified,
	}, nil
}

// Refresh rotates the refresh token and extends the session. Errors are
// session.ErrInvalidRefreshToken and session.ErrSessionExpired.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (Result, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	sess, pair, err := a.sessions.Rotate(ctx, refreshToken)
	if err != nil {
		return Result{}, err
	}

	user, err := a.users.UserByID(ctx, sess.UserID)
	if err != nil {
		log.Error("failed to load user for refreshed session", sl.Err(err))
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.Int64("uid", user.ID))

	return Result{
		User:    user,
		Session: sess,
		Tokens:  pair,
	}, nil
}

// Logout ends the session holding the refresh token. Deliberately
// fail-open: an unknown or already-invalid token still counts as a
// successful logout, since the caller's intent is satisfied either way.
func (a *Auth) Logout(ctx context.Context, refreshToken string) {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	if err := a.sessions.Deactivate(ctx, refreshToken); err != nil {
		log.Error("failed to deactivate session", sl.Err(err))
		return
	}

	log.Info("user logged out")
}

// LogoutAll revokes every active session of the user.
func (a *Auth) LogoutAll(ctx context.Context, userID int64) error {
	const op = "auth.LogoutAll"

	log := a.log.With(slog.String("op", op))

	if err := a.sessions.DeactivateAll(ctx, userID); err != nil {
		log.Error("failed to deactivate sessions", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out everywhere", slog.Int64("uid", userID))

	return nil
}

// ChangePassword swaps the hash for an authenticated user after checking
// the current password, then revokes every session: all devices must log
// in again with the new credential.
func (a *Auth) ChangePassword(ctx context.Context, userID int64, currentPass, newPass string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrWrongPassword
		}

		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if !password.Compare(currentPass, user.PassHash) {
		log.Warn("password change with wrong current password", slog.Int64("uid", user.ID))
		return ErrWrongPassword
	}

	if err := password.Validate(newPass); err != nil {
		return err
	}

	passHash, err := password.Hash(newPass, a.bcryptCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.UpdatePassword(ctx, user.ID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.DeactivateAll(ctx, user.ID); err != nil {
		log.Error("failed to revoke sessions after password change", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed", slog.Int64("uid", user.ID))

	return nil
}

// VerifyEmail consumes a verification token. The token is cleared in the
// same update that sets the flag, so it is single-use.
func (a *Auth) VerifyEmail(ctx context.Context, token string) (models.User, error) {
	const op = "auth.VerifyEmail"

	log := a.log.With(slog.String("op", op))

	user, err := a.users.ConsumeVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("verification token did not match any user")
			return models.User{}, ErrInvalidToken
		}

		log.Error("failed to consume verification token", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("email verified", slog.Int64("uid", user.ID))

	return user, nil
}

// ResendVerification issues a fresh verification token and queues the
// email. Unknown or already-verified addresses are silently ignored.
func (a *Auth) ResendVerification(ctx context.Context, email string) error {
	const op = "auth.ResendVerification"

	log := a.log.With(slog.String("op", op))

	email = strings.ToLower(strings.TrimSpace(email))

	if !password.ValidEmail(email) {
		return ErrInvalidEmail
	}

	token, err := jwt.NewOpaqueToken(jwt.OneTimeTokenBytes)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.SetVerificationToken(ctx, email, token)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("resend requested for unknown or verified email")
			return nil
		}

		log.Error("failed to set verification token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.sendTokenLink(ctx, user.Email, token, models.PurposeEmailVerification)

	return nil
}

// RequestPasswordReset stores a time-boxed reset token and queues the
// email. The response is identical whether or not the account exists.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) error {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(slog.String("op", op))

	email = strings.ToLower(strings.TrimSpace(email))

	if !password.ValidEmail(email) {
		return ErrInvalidEmail
	}

	token, err := jwt.NewOpaqueToken(jwt.OneTimeTokenBytes)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.SetPasswordResetToken(ctx, email, token, time.Now().Add(a.resetTokenTTL))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("reset requested for unknown email")
			return nil
		}

		log.Error("failed to set reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.sendTokenLink(ctx, user.Email, token, models.PurposePasswordReset)

	log.Info("password reset requested", slog.Int64("uid", user.ID))

	return nil
}

// ResetPassword consumes a reset token, sets the new hash and revokes every
// session of the user, so a stolen session cannot outlive the compromise.
func (a *Auth) ResetPassword(ctx context.Context, token, newPassword string) (models.User, error) {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	if err := password.Validate(newPassword); err != nil {
		return models.User{}, err
	}

	passHash, err := password.Hash(newPassword, a.bcryptCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.users.ConsumePasswordResetToken(ctx, token, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			log.Warn("reset token invalid or expired")
			return models.User{}, ErrInvalidToken
		}

		log.Error("failed to consume reset token", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.DeactivateAll(ctx, user.ID); err != nil {
		log.Error("failed to revoke sessions after reset", sl.Err(err))
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset", slog.Int64("uid", user.ID))

	return user, nil
}

// sendTokenLink queues the email message. Delivery is best-effort: a broker
// hiccup must not fail the user-facing operation, the token stays usable
// through resend.
func (a *Auth) sendTokenLink(ctx context.Context, email, token, purpose string) {
	var link string
	switch purpose {
	case models.PurposePasswordReset:
		link = fmt.Sprintf("%s/reset-password?token=%s", a.publicURL, token)
	default:
		link = fmt.Sprintf("%s/verify-email?token=%s", a.publicURL, token)
	}

	msg := models.Message{
		Email:   email,
		Link:    link,
		Purpose: purpose,
	}

	if err := a.publisher.SendMessage(ctx, msg); err != nil {
		a.log.Error("failed to publish email message", sl.Err(err))
	}
}
