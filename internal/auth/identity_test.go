package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "fox_99", "fox_99"},
		{"dash kept", "left-face", "left-face"},
		{"trimmed", "  fox  ", "fox"},
		{"spaces inside", "fox 99", "fox_99"},
		{"dots and slashes", "../etc/passwd", "___etc_passwd"},
		{"BMP runes become one underscore each", "沫泽", "__"},
		{"astral runes become two underscores", "fox🦊", "fox__"},
		{"truncation counts code units", strings.Repeat("a", 63) + "🦊", strings.Repeat("a", 63) + "_"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
		{"truncated", strings.Repeat("a", 70), strings.Repeat("a", 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{
		"fox_99", " spaced name ", "a/b\\c", "ünïcödé", strings.Repeat("é", 80),
		"tab\tinside", "", "-_-", "trailing  ", strings.Repeat("🦊", 40),
	}
	for _, in := range inputs {
		once := Sanitize(in)
		assert.Equal(t, once, Sanitize(once), "Sanitize not idempotent for %q", in)
		assert.LessOrEqual(t, len([]rune(once)), MaxUserLength)
	}
}

func TestUserCookieRoundTrip(t *testing.T) {
	rr := httptest.NewRecorder()
	SetUserCookie(rr, "fox_99", 0)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "fox_99", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int(DefaultCookieMaxAge.Seconds()), c.MaxAge)
	assert.False(t, c.HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: c.Value})
	user, ok := UserFromRequest(req)
	assert.True(t, ok)
	assert.Equal(t, "fox_99", user)
}

func TestClearUserCookie(t *testing.T) {
	rr := httptest.NewRecorder()
	ClearUserCookie(rr)

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestUserFromRequest_SanitizesCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "fox.99"})

	user, ok := UserFromRequest(req)
	assert.True(t, ok)
	assert.Equal(t, "fox_99", user)
}

func TestUserFromRequest_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := UserFromRequest(req)
	assert.False(t, ok)
}
