package password

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndCompare(t *testing.T) {
	hash, err := Hash("Str0ng!Pass", bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, Compare("Str0ng!Pass", hash))
	assert.False(t, Compare("wrong-password", hash))
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("Str0ng!Pass", bcrypt.MinCost)
	require.NoError(t, err)

	second, err := Hash("Str0ng!Pass", bcrypt.MinCost)
	require.NoError(t, err)

	// Same input, different salt, different hash. Both still verify.
	assert.NotEqual(t, first, second)
	assert.True(t, Compare("Str0ng!Pass", first))
	assert.True(t, Compare("Str0ng!Pass", second))
}

func TestHashRejectsAbsurdCost(t *testing.T) {
	// Cost below bcrypt's minimum falls back to the default instead of
	// producing a weaker hash.
	hash, err := Hash("Str0ng!Pass", 0)
	require.NoError(t, err)

	cost, err := bcrypt.Cost(hash)
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		violations int
	}{
		{name: "valid", password: "Str0ng!Pass", violations: 0},
		{name: "too short", password: "S7!a", violations: 1},
		{name: "no uppercase", password: "weak0!pass", violations: 1},
		{name: "no lowercase", password: "WEAK0!PASS", violations: 1},
		{name: "no digit", password: "Weakest!Pass", violations: 1},
		{name: "no special", password: "Weak0Pass", violations: 1},
		{name: "everything wrong", password: "abc", violations: 4},
		{name: "empty", password: "", violations: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.password)

			if tt.violations == 0 {
				require.NoError(t, err)
				return
			}

			var validationErr *ValidationError
			require.True(t, errors.As(err, &validationErr))
			assert.Len(t, validationErr.Violations, tt.violations)
		})
	}
}

func TestValidateReportsAllRules(t *testing.T) {
	err := Validate("short")

	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))

	// Every violated rule is reported, not just the first.
	assert.Contains(t, validationErr.Violations, "Password must be at least 8 characters long")
	assert.Contains(t, validationErr.Violations, "Password must contain at least one uppercase letter")
	assert.Contains(t, validationErr.Violations, "Password must contain at least one number")
	assert.Contains(t, validationErr.Violations, "Password must contain at least one special character")
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("alice@example.com"))
	assert.True(t, ValidEmail("first.last+tag@sub.example.co"))

	assert.False(t, ValidEmail(""))
	assert.False(t, ValidEmail("alice"))
	assert.False(t, ValidEmail("alice@example"))
	assert.False(t, ValidEmail("@example.com"))
	assert.False(t, ValidEmail("alice @example.com"))
}
