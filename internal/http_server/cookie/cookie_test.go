package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func written(t *testing.T, write func(w http.ResponseWriter)) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	write(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestSetSameSiteLax(t *testing.T) {
	cw := NewWriter(720*time.Hour, false)

	c := written(t, func(w http.ResponseWriter) { cw.Set(w, "token-value") })

	assert.Equal(t, Name, c.Name)
	assert.Equal(t, "token-value", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((720 * time.Hour).Seconds()), c.MaxAge)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
}

func TestSetCrossSiteRequiresSecure(t *testing.T) {
	cw := NewWriter(720*time.Hour, true)

	c := written(t, func(w http.ResponseWriter) { cw.Set(w, "token-value") })

	// Browsers reject SameSite=None without Secure.
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteNoneMode, c.SameSite)
}

func TestClear(t *testing.T) {
	cw := NewWriter(720*time.Hour, false)

	c := written(t, cw.Clear)

	assert.Equal(t, Name, c.Name)
	assert.Empty(t, c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Negative(t, c.MaxAge)
	assert.True(t, c.HttpOnly)
}
