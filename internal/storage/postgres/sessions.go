package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"storefront_auth/internal/models"
	"storefront_auth/internal/storage"
)

const sessionColumns = `id, user_id, session_token, refresh_token, ip_address, user_agent,
		is_active, expires_at, last_activity, created_at`

func scanSession(row pgx.Row) (models.Session, error) {
	var s models.Session

	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.SessionToken,
		&s.RefreshToken,
		&s.IPAddress,
		&s.UserAgent,
		&s.IsActive,
		&s.ExpiresAt,
		&s.LastActivity,
		&s.CreatedAt,
	)

	return s, err
}

func (r *PostgresRepo) SaveSession(ctx context.Context, session models.Session) error {
	const op = "storage.postgres.SaveSession"

	query := `
		INSERT INTO user_sessions (id, user_id, session_token, refresh_token, ip_address, user_agent, is_active, expires_at, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.SessionToken,
		session.RefreshToken,
		session.IPAddress,
		session.UserAgent,
		session.IsActive,
		session.ExpiresAt,
		session.LastActivity,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) SessionByToken(ctx context.Context, sessionToken string) (models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE session_token = $1;
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, sessionToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, storage.ErrSessionNotFound
	}

	return s, err
}

func (r *PostgresRepo) SessionByRefreshToken(ctx context.Context, refreshToken string) (models.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE refresh_token = $1 AND is_active = TRUE;
	`

	s, err := scanSession(r.pool.QueryRow(ctx, query, refreshToken))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, storage.ErrSessionNotFound
	}

	return s, err
}

// RotateSession overwrites the refresh token only if the row still holds
// the old value. A concurrent rotation that got there first leaves zero
// rows matched and the caller gets ErrSessionNotFound.
func (r *PostgresRepo) RotateSession(ctx context.Context, id, oldRefreshToken, newRefreshToken string, expiresAt time.Time) error {
	const op = "storage.postgres.RotateSession"

	query := `
		UPDATE user_sessions
		SET refresh_token = $3, expires_at = $4, last_activity = NOW()
		WHERE id = $1 AND refresh_token = $2 AND is_active = TRUE;
	`

	tag, err := r.pool.Exec(ctx, query, id, oldRefreshToken, newRefreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

func (r *PostgresRepo) TouchSession(ctx context.Context, id string, at time.Time) error {
	const op = "storage.postgres.TouchSession"

	query := `UPDATE user_sessions SET last_activity = $2 WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) DeactivateSession(ctx context.Context, id string) error {
	const op = "storage.postgres.DeactivateSession"

	query := `UPDATE user_sessions SET is_active = FALSE, last_activity = NOW() WHERE id = $1;`

	if _, err := r.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) DeactivateByRefreshToken(ctx context.Context, refreshToken string) error {
	const op = "storage.postgres.DeactivateByRefreshToken"

	query := `UPDATE user_sessions SET is_active = FALSE, last_activity = NOW() WHERE refresh_token = $1;`

	tag, err := r.pool.Exec(ctx, query, refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if tag.RowsAffected() == 0 {
		return storage.ErrSessionNotFound
	}

	return nil
}

func (r *PostgresRepo) DeactivateUserSessions(ctx context.Context, userID int64) error {
	const op = "storage.postgres.DeactivateUserSessions"

	query := `
		UPDATE user_sessions
		SET is_active = FALSE, last_activity = NOW()
		WHERE user_id = $1 AND is_active = TRUE;
	`

	if _, err := r.pool.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) ActiveSessions(ctx context.Context, userID int64) ([]models.Session, error) {
	const op = "storage.postgres.ActiveSessions"

	query := `
		SELECT ` + sessionColumns + `
		FROM user_sessions
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY last_activity DESC;
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var sessions []models.Session

	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, s)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%s: %w", op, rows.Err())
	}

	return sessions, nil
}

func (r *PostgresRepo) DeactivateExpiredSessions(ctx context.Context) (int64, error) {
	const op = "storage.postgres.DeactivateExpiredSessions"

	query := `
		UPDATE user_sessions
		SET is_active = FALSE
		WHERE is_active = TRUE AND expires_at < NOW();
	`

	tag, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}
