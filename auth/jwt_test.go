package auth

import (
	"net/http"
	"testing"
	"time"
)

const testSecret = "c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00c0ffee00"

func TestTokenRoundTrip(t *testing.T) {
	payload := validPayload()
	token, err := IssueToken(testSecret, &payload)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := VerifyToken(testSecret, token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Email != payload.Email {
		t.Errorf("email = %q, want %q", claims.Email, payload.Email)
	}
	if claims.Plan != payload.Plan {
		t.Errorf("plan = %q, want %q", claims.Plan, payload.Plan)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	payload := validPayload()
	token, err := IssueToken(testSecret, &payload)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := VerifyToken("other-secret", token); err != ErrTokenInvalid {
		t.Errorf("VerifyToken with wrong secret = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyTokenRejectsGarbage(t *testing.T) {
	if _, err := VerifyToken(testSecret, "not.a.token"); err != ErrTokenInvalid {
		t.Errorf("VerifyToken = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyTokenRejectsLapsedLicense(t *testing.T) {
	// Token itself is fresh but the license it was issued for has expired
	// since; verification must fail even though the JWT exp is fine.
	payload := validPayload()
	payload.ExpiresAt = time.Now().Add(-time.Minute).Format(time.RFC3339)

	token, err := IssueToken(testSecret, &payload)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	if _, err := VerifyToken(testSecret, token); err != ErrTokenInvalid {
		t.Errorf("VerifyToken with lapsed license = %v, want ErrTokenInvalid", err)
	}
}

func TestSessionCookieShape(t *testing.T) {
	c := SessionCookie("tok", true)
	if c.Name != CookieName {
		t.Errorf("name = %q, want %q", c.Name, CookieName)
	}
	if !c.HttpOnly {
		t.Error("cookie must be HttpOnly")
	}
	if !c.Secure {
		t.Error("cookie must be Secure when TLS is active")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", c.SameSite)
	}

	plain := SessionCookie("tok", false)
	if plain.Secure {
		t.Error("cookie must not be Secure without TLS")
	}

	cleared := ClearedSessionCookie(false)
	if cleared.MaxAge >= 0 {
		t.Errorf("cleared cookie MaxAge = %d, want negative", cleared.MaxAge)
	}
}
