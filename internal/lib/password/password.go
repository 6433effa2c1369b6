package password

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const MinLength = 8

const specialChars = `!@#$%^&*(),.?":{}|<>`

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidationError carries every violated strength rule, not just the first.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "password does not meet requirements: " + strings.Join(e.Violations, "; ")
}

// Hash derives a salted bcrypt hash of the plaintext. The salt is embedded
// in the hash, so hashing the same password twice yields different strings.
func Hash(plaintext string, cost int) ([]byte, error) {
	const op = "password.Hash"

	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

// Compare reports whether plaintext matches the stored hash.
func Compare(plaintext string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plaintext)) == nil
}

// Validate checks password strength and returns all violated rules.
func Validate(plaintext string) error {
	var violations []string

	if len(plaintext) < MinLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters long", MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range plaintext {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialChars, r):
			hasSpecial = true
		}
	}

	if !hasUpper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if !hasLower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if !hasDigit {
		violations = append(violations, "Password must contain at least one number")
	}
	if !hasSpecial {
		violations = append(violations, "Password must contain at least one special character")
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}

	return nil
}

// ValidEmail is a syntactic local@domain.tld check. It says nothing about
// deliverability.
func ValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}
