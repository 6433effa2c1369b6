package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"storefront_auth/internal/config"
	"storefront_auth/internal/models"
	"storefront_auth/internal/storage"
	"storefront_auth/internal/storage/postgres/migrations"
)

type PostgresRepo struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, cfg *config.Config) (*PostgresRepo, error) {
	const op = "storage.postgres.New"

	dsn := dsn(cfg)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse config: %w", op, err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = time.Minute * 30

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create pool: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to ping database: %w", op, err)
	}

	if err := runMigrations(ctx, dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: failed to run migrations: %w", op, err)
	}

	return &PostgresRepo{pool: pool}, nil
}

// runMigrations applies the embedded goose migrations over a throwaway
// database/sql connection; the pgxpool stays dedicated to the hot path.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}

const userColumns = `id, email, password_hash, first_name, last_name, email_verified,
		email_verification_token, password_reset_token, password_reset_expires,
		login_attempts, locked_until, last_login, marketing_consent, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PassHash,
		&u.FirstName,
		&u.LastName,
		&u.EmailVerified,
		&u.EmailVerificationToken,
		&u.PasswordResetToken,
		&u.PasswordResetExpires,
		&u.LoginAttempts,
		&u.LockedUntil,
		&u.LastLogin,
		&u.MarketingConsent,
		&u.CreatedAt,
	)

	return u, err
}

func (r *PostgresRepo) SaveUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.postgres.SaveUser"

	query := `
		INSERT INTO users (email, password_hash, first_name, last_name, email_verification_token, marketing_consent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + userColumns + `;
	`

	saved, err := scanUser(r.pool.QueryRow(ctx, query,
		user.Email,
		user.PassHash,
		user.FirstName,
		user.LastName,
		user.EmailVerificationToken,
		user.MarketingConsent,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.User{}, storage.ErrUserExists
		}

		return models.User{}, fmt.Errorf("%s: failed to save user: %w", op, err)
	}

	return saved, nil
}

func (r *PostgresRepo) UserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE email = $1;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, storage.ErrUserNotFound
		}

		return models.User{}, err
	}

	return u, nil
}

func (r *PostgresRepo) UserByID(ctx context.Context, id int64) (models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, err
}

func (r *PostgresRepo) RecordLoginFailure(ctx context.Context, userID int64, attempts int, lockedUntil *time.Time) error {
	const op = "storage.postgres.RecordLoginFailure"

	query := `
		UPDATE users
		SET login_attempts = $2, locked_until = $3, updated_at = NOW()
		WHERE id = $1;
	`

	if _, err := r.pool.Exec(ctx, query, userID, attempts, lockedUntil); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) RecordLogin(ctx context.Context, userID int64, at time.Time) error {
	const op = "storage.postgres.RecordLogin"

	query := `
		UPDATE users
		SET login_attempts = 0, locked_until = NULL, last_login = $2, updated_at = NOW()
		WHERE id = $1;
	`

	if _, err := r.pool.Exec(ctx, query, userID, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) UpdatePassword(ctx context.Context, userID int64, newPassHash []byte) error {
	const op = "storage.postgres.UpdatePassword"

	query := `
		UPDATE users
		SET password_hash = $2, updated_at = NOW()
		WHERE id = $1;
	`

	if _, err := r.pool.Exec(ctx, query, userID, newPassHash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *PostgresRepo) SetVerificationToken(ctx context.Context, email, token string) (models.User, error) {
	query := `
		UPDATE users
		SET email_verification_token = $2, updated_at = NOW()
		WHERE email = $1 AND email_verified = FALSE
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, err
}

// ConsumeVerificationToken flips email_verified and clears the token in one
// conditional update, so a verification token can only ever be spent once.
func (r *PostgresRepo) ConsumeVerificationToken(ctx context.Context, token string) (models.User, error) {
	query := `
		UPDATE users
		SET email_verified = TRUE, email_verification_token = NULL, updated_at = NOW()
		WHERE email_verification_token = $1
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.ErrTokenNotFound
	}

	return u, err
}

func (r *PostgresRepo) SetPasswordResetToken(ctx context.Context, email, token string, expiresAt time.Time) (models.User, error) {
	query := `
		UPDATE users
		SET password_reset_token = $2, password_reset_expires = $3, updated_at = NOW()
		WHERE email = $1
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, email, token, expiresAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.ErrUserNotFound
	}

	return u, err
}

// ConsumePasswordResetToken swaps in the new hash, clears the reset pair
// and resets the lockout counters. The WHERE clause checks both the token
// and its expiry, so of two concurrent submissions exactly one succeeds.
func (r *PostgresRepo) ConsumePasswordResetToken(ctx context.Context, token string, newPassHash []byte) (models.User, error) {
	query := `
		UPDATE users
		SET password_hash = $2,
			password_reset_token = NULL,
			password_reset_expires = NULL,
			login_attempts = 0,
			locked_until = NULL,
			updated_at = NOW()
		WHERE password_reset_token = $1 AND password_reset_expires > NOW()
		RETURNING ` + userColumns + `;
	`

	u, err := scanUser(r.pool.QueryRow(ctx, query, token, newPassHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, storage.ErrTokenNotFound
	}

	return u, err
}

func (r *PostgresRepo) Close() {
	r.pool.Close()
}

// * dsn формирует конфигурацию базы данных.
func dsn(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s database=%s sslmode=%s",
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
	)
}
