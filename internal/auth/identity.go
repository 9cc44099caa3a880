// Package auth resolves the caller's identity from the plaintext
// "username" cookie.
//
// There is no secret involved: the cookie value IS the user identifier, after
// sanitizing. The package only guarantees that whatever reaches the rest of
// the application is a safe path segment ([A-Za-z0-9_-], at most 64 chars).
package auth

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf16"
)

const (
	// CookieName is the cookie carrying the sanitized username.
	CookieName = "username"

	// MaxUserLength is the length a sanitized identifier is truncated to.
	MaxUserLength = 64

	// DefaultCookieMaxAge keeps a login for a year.
	DefaultCookieMaxAge = 365 * 24 * time.Hour
)

// Sanitize maps a raw credential to a user identifier: surrounding
// whitespace is trimmed, every UTF-16 code unit outside [A-Za-z0-9_-]
// becomes '_' and the result is cut to MaxUserLength characters. Counting
// code units keeps the directory of a name like "fox🦊" ("fox__") the same
// as the one the browser pages compute.
//
// Sanitize never fails. An empty result means "no identity" and callers must
// reject it. Sanitize(Sanitize(s)) == Sanitize(s) for every s.
func Sanitize(raw string) string {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	n := 0
	for _, r := range raw {
		if isAllowed(r) {
			if n == MaxUserLength {
				break
			}
			b.WriteRune(r)
			n++
			continue
		}
		// invalid UTF-8 decodes to RuneError, which is one unit
		units := max(utf16.RuneLen(r), 1)
		for range units {
			if n == MaxUserLength {
				break
			}
			b.WriteByte('_')
			n++
		}
		if n == MaxUserLength {
			break
		}
	}
	return b.String()
}

func isAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// SetUserCookie stores user in the identity cookie.
//
// The cookie is deliberately readable from page scripts (no HttpOnly): the
// display pages show the logged-in name without a round trip.
func SetUserCookie(w http.ResponseWriter, user string, maxAge time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultCookieMaxAge
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    user,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearUserCookie tells the browser to drop the identity cookie.
func ClearUserCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserFromRequest reads and sanitizes the identity cookie.
// It returns ("", false) when the cookie is missing or sanitizes to nothing.
func UserFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	user := Sanitize(cookie.Value)
	return user, user != ""
}
