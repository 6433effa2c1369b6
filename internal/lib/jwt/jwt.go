package jwt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"storefront_auth/internal/models"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// Opaque token sizes in bytes, before hex encoding.
const (
	SessionTokenBytes = 64
	OneTimeTokenBytes = 32
)

// Manager signs and verifies the two JWT families. Access and refresh
// tokens use distinct secrets, so a leaked refresh secret cannot mint
// access tokens and vice versa.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func New(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) (*Manager, error) {
	const op = "jwt.New"

	if accessSecret == "" {
		return nil, fmt.Errorf("%s: access token secret is not set", op)
	}
	if refreshSecret == "" {
		return nil, fmt.Errorf("%s: refresh token secret is not set", op)
	}

	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

// Issue signs a short-lived access token and a longer-lived refresh token
// for the user.
func (m *Manager) Issue(userID int64) (models.TokenPair, error) {
	const op = "jwt.Issue"

	access, err := sign(userID, m.accessSecret, m.accessTTL)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := sign(userID, m.refreshSecret, m.refreshTTL)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (m *Manager) VerifyAccess(token string) (int64, error) {
	return verify(token, m.accessSecret)
}

func (m *Manager) VerifyRefresh(token string) (int64, error) {
	return verify(token, m.refreshSecret)
}

func sign(userID int64, secret []byte, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := jwtlib.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwtlib.NewNumericDate(now),
		ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)

	return token.SignedString(secret)
}

func verify(tokenStr string, secret []byte) (int64, error) {
	const op = "jwt.verify"

	claims := &jwtlib.RegisteredClaims{}

	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrTokenInvalid
	}

	if !token.Valid {
		return 0, ErrTokenInvalid
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}

	return userID, nil
}

// NewOpaqueToken returns n cryptographically random bytes hex-encoded.
// Used for session tokens and the single-use verification/reset tokens.
func NewOpaqueToken(n int) (string, error) {
	const op = "jwt.NewOpaqueToken"

	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return hex.EncodeToString(buf), nil
}
