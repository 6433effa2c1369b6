package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"storefront_auth/internal/auth"
	"storefront_auth/internal/lib/jwt"
	"storefront_auth/internal/lib/password"
	"storefront_auth/internal/models"
	"storefront_auth/internal/session"
	"storefront_auth/internal/storage"
)

// ---- fakes ----

type fakeUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{nextID: 1, users: make(map[int64]*models.User)}
}

func (f *fakeUsers) SaveUser(_ context.Context, user models.User) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == user.Email {
			return models.User{}, storage.ErrUserExists
		}
	}

	user.ID = f.nextID
	user.CreatedAt = time.Now()
	f.nextID++

	f.users[user.ID] = &user
	return user, nil
}

func (f *fakeUsers) UserByEmail(_ context.Context, email string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			return *u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeUsers) UserByID(_ context.Context, id int64) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[id]; ok {
		return *u, nil
	}
	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeUsers) RecordLoginFailure(_ context.Context, userID int64, attempts int, lockedUntil *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[userID]; ok {
		u.LoginAttempts = attempts
		u.LockedUntil = lockedUntil
	}
	return nil
}

func (f *fakeUsers) RecordLogin(_ context.Context, userID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[userID]; ok {
		u.LoginAttempts = 0
		u.LockedUntil = nil
		u.LastLogin = &at
	}
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID int64, newPassHash []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if u, ok := f.users[userID]; ok {
		u.PassHash = newPassHash
	}
	return nil
}

func (f *fakeUsers) SetVerificationToken(_ context.Context, email, token string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email && !u.EmailVerified {
			u.EmailVerificationToken = &token
			return *u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeUsers) ConsumeVerificationToken(_ context.Context, token string) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.EmailVerificationToken != nil && *u.EmailVerificationToken == token {
			u.EmailVerified = true
			u.EmailVerificationToken = nil
			return *u, nil
		}
	}
	return models.User{}, storage.ErrTokenNotFound
}

func (f *fakeUsers) SetPasswordResetToken(_ context.Context, email, token string, expiresAt time.Time) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Email == email {
			u.PasswordResetToken = &token
			u.PasswordResetExpires = &expiresAt
			return *u, nil
		}
	}
	return models.User{}, storage.ErrUserNotFound
}

func (f *fakeUsers) ConsumePasswordResetToken(_ context.Context, token string, newPassHash []byte) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()

	for _, u := range f.users {
		if u.PasswordResetToken != nil && *u.PasswordResetToken == token &&
			u.PasswordResetExpires != nil && u.PasswordResetExpires.After(now) {
			u.PassHash = newPassHash
			u.PasswordResetToken = nil
			u.PasswordResetExpires = nil
			u.LoginAttempts = 0
			u.LockedUntil = nil
			return *u, nil
		}
	}
	return models.User{}, storage.ErrTokenNotFound
}

func (f *fakeUsers) get(id int64) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id]
}

type fakeSessionStorage struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newFakeSessionStorage() *fakeSessionStorage {
	return &fakeSessionStorage{sessions: make(map[string]*models.Session)}
}

func (f *fakeSessionStorage) SaveSession(_ context.Context, s models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions[s.ID] = &s
	return nil
}

func (f *fakeSessionStorage) SessionByToken(_ context.Context, token string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.SessionToken == token {
			return *s, nil
		}
	}
	return models.Session{}, storage.ErrSessionNotFound
}

func (f *fakeSessionStorage) SessionByRefreshToken(_ context.Context, token string) (models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.RefreshToken == token && s.IsActive {
			return *s, nil
		}
	}
	return models.Session{}, storage.ErrSessionNotFound
}

func (f *fakeSessionStorage) RotateSession(_ context.Context, id, oldToken, newToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.sessions[id]
	if !ok || s.RefreshToken != oldToken || !s.IsActive {
		return storage.ErrSessionNotFound
	}

	s.RefreshToken = newToken
	s.ExpiresAt = expiresAt
	s.LastActivity = time.Now()
	return nil
}

func (f *fakeSessionStorage) TouchSession(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.sessions[id]; ok {
		s.LastActivity = at
	}
	return nil
}

func (f *fakeSessionStorage) DeactivateSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if s, ok := f.sessions[id]; ok {
		s.IsActive = false
	}
	return nil
}

func (f *fakeSessionStorage) DeactivateByRefreshToken(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.RefreshToken == token {
			s.IsActive = false
			return nil
		}
	}
	return storage.ErrSessionNotFound
}

func (f *fakeSessionStorage) DeactivateUserSessions(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, s := range f.sessions {
		if s.UserID == userID {
			s.IsActive = false
		}
	}
	return nil
}

func (f *fakeSessionStorage) ActiveSessions(_ context.Context, userID int64) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionStorage) DeactivateExpiredSessions(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()

	var count int64
	for _, s := range f.sessions {
		if s.IsActive && now.After(s.ExpiresAt) {
			s.IsActive = false
			count++
		}
	}
	return count, nil
}

func (f *fakeSessionStorage) get(id string) *models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[id]
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []models.Message
	fail     bool
}

func (f *fakePublisher) SendMessage(_ context.Context, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) sent() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.messages...)
}

// ---- helpers ----

type testEnv struct {
	auth      *auth.Auth
	users     *fakeUsers
	sessions  *fakeSessionStorage
	publisher *fakePublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := jwt.New("test-access-secret", "test-refresh-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	users := newFakeUsers()
	sessionStorage := newFakeSessionStorage()
	publisher := &fakePublisher{}

	sessions := session.New(log, sessionStorage, users, tokens, 7*24*time.Hour)

	a := auth.New(log, users, sessions, publisher,
		bcrypt.MinCost, 5, 30*time.Minute, time.Hour, "http://localhost:8080")

	return &testEnv{auth: a, users: users, sessions: sessionStorage, publisher: publisher}
}

var device = models.DeviceInfo{IP: "127.0.0.1", UserAgent: "go-test"}

func registerParams() auth.RegisterParams {
	return auth.RegisterParams{
		Email:     "alice@example.com",
		Password:  "Str0ng!Pass",
		FirstName: "Alice",
		LastName:  "Smith",
	}
}

func (e *testEnv) register(t *testing.T) auth.Result {
	t.Helper()

	res, err := e.auth.Register(context.Background(), registerParams(), device)
	require.NoError(t, err)
	return res
}

// ---- register ----

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	res := env.register(t)

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.False(t, res.User.EmailVerified)
	assert.True(t, res.RequiresEmailVerification)
	assert.NotEmpty(t, res.Tokens.AccessToken)
	assert.NotEmpty(t, res.Tokens.RefreshToken)
	assert.NotEmpty(t, res.Session.SessionToken)

	// The plaintext is never stored.
	saved := env.users.get(res.User.ID)
	assert.NotContains(t, string(saved.PassHash), "Str0ng!Pass")
	assert.True(t, password.Compare("Str0ng!Pass", saved.PassHash))

	active, err := env.sessions.ActiveSessions(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	sent := env.publisher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].Email)
	assert.Equal(t, models.PurposeEmailVerification, sent[0].Purpose)
	assert.Contains(t, sent[0].Link, "/verify-email?token=")
	assert.Contains(t, sent[0].Link, *saved.EmailVerificationToken)
}

func TestRegisterNormalizesEmail(t *testing.T) {
	env := newTestEnv(t)

	params := registerParams()
	params.Email = "  Alice@Example.COM "

	res, err := env.auth.Register(context.Background(), params, device)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", res.User.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	env.register(t)

	_, err := env.auth.Register(context.Background(), registerParams(), device)
	assert.ErrorIs(t, err, auth.ErrUserExists)
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	missing := registerParams()
	missing.FirstName = "  "
	_, err := env.auth.Register(context.Background(), missing, device)
	assert.ErrorIs(t, err, auth.ErrMissingFields)

	badEmail := registerParams()
	badEmail.Email = "not-an-email"
	_, err = env.auth.Register(context.Background(), badEmail, device)
	assert.ErrorIs(t, err, auth.ErrInvalidEmail)

	weak := registerParams()
	weak.Password = "short"
	_, err = env.auth.Register(context.Background(), weak, device)

	var validationErr *password.ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestRegisterSurvivesBrokerOutage(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.fail = true

	res, err := env.auth.Register(context.Background(), registerParams(), device)
	require.NoError(t, err)

	// Email delivery is best-effort, the token stays usable through resend.
	assert.NotNil(t, env.users.get(res.User.ID).EmailVerificationToken)
}

// ---- login & lockout ----

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	res, err := env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", res.User.Email)
	assert.True(t, res.RequiresEmailVerification)
	assert.NotNil(t, res.User.LastLogin)
	assert.Zero(t, res.User.LoginAttempts)

	// A second device gets its own session.
	active, err := env.sessions.ActiveSessions(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	_, err := env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	assert.Equal(t, 1, env.users.get(reg.User.ID).LoginAttempts)
}

func TestLoginUnknownEmail(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Login(context.Background(), "nobody@example.com", "Str0ng!Pass", device)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
}

func TestLoginMissingCredentials(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Login(context.Background(), "alice@example.com", "", device)
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	for i := 0; i < 4; i++ {
		_, err := env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	}

	// The fifth failure crosses the threshold.
	_, err := env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)

	var locked *auth.LockedError
	require.True(t, errors.As(err, &locked))
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), locked.Until, time.Minute)

	// Even the correct password is rejected while the window is open, and
	// the attempt counter stays where it was.
	_, err = env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	assert.True(t, errors.As(err, &locked))
	assert.Equal(t, 5, env.users.get(reg.User.ID).LoginAttempts)
}

func TestLockExpiresOnItsOwn(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	for i := 0; i < 5; i++ {
		_, _ = env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)
	}

	// No explicit unlock: moving past lockedUntil is enough.
	past := time.Now().Add(-time.Second)
	env.users.get(reg.User.ID).LockedUntil = &past

	res, err := env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)
	assert.Zero(t, res.User.LoginAttempts)
	assert.Nil(t, env.users.get(reg.User.ID).LockedUntil)
}

func TestFailureCounterKeepsGrowingAfterLockExpiry(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	for i := 0; i < 5; i++ {
		_, _ = env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)
	}

	past := time.Now().Add(-time.Second)
	env.users.get(reg.User.ID).LockedUntil = &past

	// A failure after the window expires re-locks immediately: only a
	// successful login resets the counter.
	_, err := env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)

	var locked *auth.LockedError
	assert.True(t, errors.As(err, &locked))
	assert.Equal(t, 6, env.users.get(reg.User.ID).LoginAttempts)
}

// ---- refresh ----

func TestRefreshRotatesExactlyOnce(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	res, err := env.auth.Refresh(context.Background(), reg.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, reg.Tokens.RefreshToken, res.Tokens.RefreshToken)
	assert.Equal(t, reg.User.ID, res.User.ID)

	// The superseded token is dead.
	_, err = env.auth.Refresh(context.Background(), reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, session.ErrInvalidRefreshToken)

	// The replacement still works.
	_, err = env.auth.Refresh(context.Background(), res.Tokens.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshExpiredSession(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	env.sessions.get(reg.Session.ID).ExpiresAt = time.Now().Add(-time.Minute)

	_, err := env.auth.Refresh(context.Background(), reg.Tokens.RefreshToken)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.False(t, env.sessions.get(reg.Session.ID).IsActive)
}

func TestRefreshGarbageToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, session.ErrInvalidRefreshToken)
}

// ---- logout ----

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	env.auth.Logout(context.Background(), reg.Tokens.RefreshToken)
	assert.False(t, env.sessions.get(reg.Session.ID).IsActive)

	// Fail-open: unknown and repeated tokens are fine.
	env.auth.Logout(context.Background(), reg.Tokens.RefreshToken)
	env.auth.Logout(context.Background(), "never-existed")
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	for i := 0; i < 2; i++ {
		_, err := env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
		require.NoError(t, err)
	}

	require.NoError(t, env.auth.LogoutAll(context.Background(), reg.User.ID))

	active, err := env.sessions.ActiveSessions(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// ---- change password ----

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	_, err := env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)

	require.NoError(t, env.auth.ChangePassword(context.Background(), reg.User.ID, "Str0ng!Pass", "N3w!Password"))

	// Every session is revoked, only the new password logs in.
	active, err := env.sessions.ActiveSessions(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = env.auth.Login(context.Background(), "alice@example.com", "N3w!Password", device)
	require.NoError(t, err)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	err := env.auth.ChangePassword(context.Background(), reg.User.ID, "Wrong!Pass1", "N3w!Password")
	assert.ErrorIs(t, err, auth.ErrWrongPassword)

	// Nothing changed: the old password still works and the session is alive.
	assert.True(t, env.sessions.get(reg.Session.ID).IsActive)
	_, err = env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)
}

func TestChangePasswordWeakNewPassword(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	err := env.auth.ChangePassword(context.Background(), reg.User.ID, "Str0ng!Pass", "weak")

	var validationErr *password.ValidationError
	require.True(t, errors.As(err, &validationErr))

	// The rejected attempt leaves the credential and sessions untouched.
	assert.True(t, env.sessions.get(reg.Session.ID).IsActive)
	_, err = env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)
}

func TestChangePasswordUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	err := env.auth.ChangePassword(context.Background(), 404, "Str0ng!Pass", "N3w!Password")
	assert.ErrorIs(t, err, auth.ErrWrongPassword)
}

// ---- email verification ----

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	token := *env.users.get(reg.User.ID).EmailVerificationToken

	user, err := env.auth.VerifyEmail(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, user.EmailVerified)
	assert.Nil(t, env.users.get(reg.User.ID).EmailVerificationToken)

	// Single-use: the same link a second time is rejected.
	_, err = env.auth.VerifyEmail(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerifyEmailUnknownToken(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.auth.VerifyEmail(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestResendVerification(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	oldToken := *env.users.get(reg.User.ID).EmailVerificationToken

	require.NoError(t, env.auth.ResendVerification(context.Background(), "alice@example.com"))

	newToken := *env.users.get(reg.User.ID).EmailVerificationToken
	assert.NotEqual(t, oldToken, newToken)

	sent := env.publisher.sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].Link, newToken)

	// The superseded token no longer verifies.
	_, err := env.auth.VerifyEmail(context.Background(), oldToken)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestResendVerificationIsSilent(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	token := *env.users.get(reg.User.ID).EmailVerificationToken
	_, err := env.auth.VerifyEmail(context.Background(), token)
	require.NoError(t, err)

	before := len(env.publisher.sent())

	// Neither an unknown address nor an already-verified one leaks
	// through the response or produces mail.
	require.NoError(t, env.auth.ResendVerification(context.Background(), "nobody@example.com"))
	require.NoError(t, env.auth.ResendVerification(context.Background(), "alice@example.com"))

	assert.Len(t, env.publisher.sent(), before)
}

// ---- password reset ----

func TestRequestPasswordReset(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))

	saved := env.users.get(reg.User.ID)
	require.NotNil(t, saved.PasswordResetToken)
	require.NotNil(t, saved.PasswordResetExpires)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *saved.PasswordResetExpires, time.Minute)

	sent := env.publisher.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, models.PurposePasswordReset, sent[1].Purpose)
	assert.Contains(t, sent[1].Link, "/reset-password?token=")
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t)

	before := len(env.publisher.sent())

	// Identical outcome for unknown addresses.
	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "nobody@example.com"))
	assert.Len(t, env.publisher.sent(), before)
}

func TestResetPassword(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	_, err := env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))
	token := *env.users.get(reg.User.ID).PasswordResetToken

	user, err := env.auth.ResetPassword(context.Background(), token, "N3w!Password")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, user.ID)

	// Every session is revoked, old and new credentials behave as expected.
	active, err := env.sessions.ActiveSessions(context.Background(), reg.User.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = env.auth.Login(context.Background(), "alice@example.com", "Str0ng!Pass", device)
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = env.auth.Login(context.Background(), "alice@example.com", "N3w!Password", device)
	require.NoError(t, err)

	// The token was consumed by the first reset.
	_, err = env.auth.ResetPassword(context.Background(), token, "An0ther!Pass")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestResetPasswordExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))

	saved := env.users.get(reg.User.ID)
	token := *saved.PasswordResetToken
	past := time.Now().Add(-time.Second)
	saved.PasswordResetExpires = &past

	_, err := env.auth.ResetPassword(context.Background(), token, "N3w!Password")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestResetPasswordClearsLockout(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	for i := 0; i < 5; i++ {
		_, _ = env.auth.Login(context.Background(), "alice@example.com", "Wrong!Pass1", device)
	}
	require.True(t, env.users.get(reg.User.ID).IsLocked(time.Now()))

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))
	token := *env.users.get(reg.User.ID).PasswordResetToken

	_, err := env.auth.ResetPassword(context.Background(), token, "N3w!Password")
	require.NoError(t, err)

	// Reset is the recovery path for a locked account.
	res, err := env.auth.Login(context.Background(), "alice@example.com", "N3w!Password", device)
	require.NoError(t, err)
	assert.Zero(t, res.User.LoginAttempts)
}

func TestResetPasswordWeakPassword(t *testing.T) {
	env := newTestEnv(t)
	reg := env.register(t)

	require.NoError(t, env.auth.RequestPasswordReset(context.Background(), "alice@example.com"))
	token := *env.users.get(reg.User.ID).PasswordResetToken

	_, err := env.auth.ResetPassword(context.Background(), token, "weak")

	var validationErr *password.ValidationError
	require.True(t, errors.As(err, &validationErr))

	// The token survives a rejected password and still works.
	_, err = env.auth.ResetPassword(context.Background(), token, "N3w!Password")
	require.NoError(t, err)
}
