package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// CookieName is the session cookie carrying the signed JWT.
const CookieName = "agentide_session"

// tokenLifetime is how long an issued cookie stays valid.
const tokenLifetime = 30 * 24 * time.Hour

// ErrTokenInvalid covers every verification failure the caller doesn't need
// to distinguish.
var ErrTokenInvalid = errors.New("session token is invalid")

// Claims is the JWT payload carried by the session cookie.
type Claims struct {
	Email            string `json:"email"`
	Plan             string `json:"plan"`
	LicenseExpiresAt string `json:"licenseExpiresAt"`
	jwt.RegisteredClaims
}

// IssueToken signs a session token for an activated license.
func IssueToken(secret string, payload *LicensePayload) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:            payload.Email,
		Plan:             payload.Plan,
		LicenseExpiresAt: payload.ExpiresAt,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// VerifyToken checks signature and expiry, and additionally rejects tokens
// whose underlying license has lapsed since issuance.
func VerifyToken(secret, tokenString string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.LicenseExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, claims.LicenseExpiresAt)
		if err != nil || !expires.After(time.Now()) {
			return nil, ErrTokenInvalid
		}
	}

	return &claims, nil
}

// SessionCookie wraps a signed token in the hub's cookie shape.
func SessionCookie(token string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokenLifetime / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

// ClearedSessionCookie expires the session cookie immediately (logout).
func ClearedSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}
