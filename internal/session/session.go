package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"storefront_auth/internal/lib/jwt"
	sl "storefront_auth/internal/lib/logger"
	"storefront_auth/internal/models"
	"storefront_auth/internal/storage"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrSessionExpired      = errors.New("session expired")
	ErrSessionInvalid      = errors.New("session invalid")
)

// Storage is the per-device session persistence the store needs.
type Storage interface {
	SaveSession(ctx context.Context, session models.Session) error
	SessionByToken(ctx context.Context, sessionToken string) (models.Session, error)
	SessionByRefreshToken(ctx context.Context, refreshToken string) (models.Session, error)
	RotateSession(ctx context.Context, id, oldRefreshToken, newRefreshToken string, expiresAt time.Time) error
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	DeactivateByRefreshToken(ctx context.Context, refreshToken string) error
	DeactivateUserSessions(ctx context.Context, userID int64) error
	ActiveSessions(ctx context.Context, userID int64) ([]models.Session, error)
	DeactivateExpiredSessions(ctx context.Context) (int64, error)
}

type UserProvider interface {
	UserByID(ctx context.Context, id int64) (models.User, error)
}

// Store creates, validates, rotates and revokes per-device sessions.
// Refresh-token values come from the JWT manager; the current value is
// kept on the session row and overwritten on every rotation, so a stale
// value can never validate again.
type Store struct {
	log        *slog.Logger
	storage    Storage
	users      UserProvider
	tokens     *jwt.Manager
	sessionTTL time.Duration
}

func New(
	log *slog.Logger,
	sessionStorage Storage,
	users UserProvider,
	tokens *jwt.Manager,
	sessionTTL time.Duration,
) *Store {
	return &Store{
		log:        log,
		storage:    sessionStorage,
		users:      users,
		tokens:     tokens,
		sessionTTL: sessionTTL,
	}
}

// Create opens a new session for the device and issues a fresh token pair.
func (s *Store) Create(ctx context.Context, userID int64, device models.DeviceInfo) (models.Session, models.TokenPair, error) {
	const op = "session.Create"

	sessionToken, err := jwt.NewOpaqueToken(jwt.SessionTokenBytes)
	if err != nil {
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	pair, err := s.tokens.Issue(userID)
	if err != nil {
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	sess := models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		SessionToken: sessionToken,
		RefreshToken: pair.RefreshToken,
		IPAddress:    device.IP,
		UserAgent:    device.UserAgent,
		IsActive:     true,
		ExpiresAt:    now.Add(s.sessionTTL),
		LastActivity: now,
		CreatedAt:    now,
	}

	if err := s.storage.SaveSession(ctx, sess); err != nil {
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return sess, pair, nil
}

type Validation struct {
	Session models.Session
	User    models.User
}

// Validate resolves a session token to the session and its user. Missing,
// inactive and expired sessions all fail with ErrSessionInvalid; an expired
// one is lazily deactivated on this first failed lookup.
func (s *Store) Validate(ctx context.Context, sessionToken string) (Validation, error) {
	const op = "session.Validate"

	log := s.log.With(slog.String("op", op))

	sess, err := s.storage.SessionByToken(ctx, sessionToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return Validation{}, ErrSessionInvalid
		}
		return Validation{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	if !sess.IsActive {
		return Validation{}, ErrSessionInvalid
	}

	if sess.IsExpired(now) {
		if err := s.storage.DeactivateSession(ctx, sess.ID); err != nil {
			log.Error("failed to deactivate expired session", sl.Err(err))
		}
		return Validation{}, ErrSessionInvalid
	}

	user, err := s.users.UserByID(ctx, sess.UserID)
	if err != nil {
		return Validation{}, ErrSessionInvalid
	}

	if err := s.storage.TouchSession(ctx, sess.ID, now); err != nil {
		log.Error("failed to bump session activity", sl.Err(err))
	}
	sess.LastActivity = now

	return Validation{Session: sess, User: user}, nil
}

// Rotate exchanges a refresh token for a new pair. The session row is
// updated conditionally on still holding the old value, so of two
// concurrent refreshes with the same token exactly one succeeds.
func (s *Store) Rotate(ctx context.Context, refreshToken string) (models.Session, models.TokenPair, error) {
	const op = "session.Rotate"

	log := s.log.With(slog.String("op", op))

	if _, err := s.tokens.VerifyRefresh(refreshToken); err != nil {
		return models.Session{}, models.TokenPair{}, ErrInvalidRefreshToken
	}

	sess, err := s.storage.SessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return models.Session{}, models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()

	if sess.IsExpired(now) {
		if err := s.storage.DeactivateSession(ctx, sess.ID); err != nil {
			log.Error("failed to deactivate expired session", sl.Err(err))
		}
		return models.Session{}, models.TokenPair{}, ErrSessionExpired
	}

	pair, err := s.tokens.Issue(sess.UserID)
	if err != nil {
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	expiresAt := now.Add(s.sessionTTL)

	err = s.storage.RotateSession(ctx, sess.ID, refreshToken, pair.RefreshToken, expiresAt)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			// Lost the race to a concurrent refresh with the same token.
			return models.Session{}, models.TokenPair{}, ErrInvalidRefreshToken
		}
		return models.Session{}, models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	sess.RefreshToken = pair.RefreshToken
	sess.ExpiresAt = expiresAt
	sess.LastActivity = now

	return sess, pair, nil
}

// Deactivate ends the single session holding the refresh token. An unknown
// token is not an error: the caller's intent is satisfied either way.
func (s *Store) Deactivate(ctx context.Context, refreshToken string) error {
	const op = "session.Deactivate"

	err := s.storage.DeactivateByRefreshToken(ctx, refreshToken)
	if err != nil && !errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeactivateAll logs the user out of every device. Used after password
// change or reset to contain the blast radius.
func (s *Store) DeactivateAll(ctx context.Context, userID int64) error {
	const op = "session.DeactivateAll"

	if err := s.storage.DeactivateUserSessions(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ListActive returns the user's active sessions, most recently used first.
// The ordering is enforced here rather than trusted to the storage layer.
func (s *Store) ListActive(ctx context.Context, userID int64) ([]models.Session, error) {
	const op = "session.ListActive"

	sessions, err := s.storage.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActivity.After(sessions[j].LastActivity)
	})

	return sessions, nil
}

// SweepExpired deactivates every session past its expiry. Correctness does
// not depend on it: expiry is checked on every lookup. Idempotent, safe to
// run alongside normal traffic.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	const op = "session.SweepExpired"

	count, err := s.storage.DeactivateExpiredSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if count > 0 {
		s.log.Info("expired sessions deactivated", slog.Int64("count", count))
	}

	return count, nil
}
