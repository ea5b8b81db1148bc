package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testKeypair(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return priv
}

func signLicense(t *testing.T, priv *rsa.PrivateKey, payload LicensePayload) string {
	t.Helper()

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	digest := sha256.Sum256(payloadBytes)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func validPayload() LicensePayload {
	return LicensePayload{
		Email:       "dev@example.com",
		Plan:        "pro",
		MaxSessions: 4,
		ExpiresAt:   time.Now().Add(365 * 24 * time.Hour).Format(time.RFC3339),
		IssuedAt:    time.Now().Format(time.RFC3339),
	}
}

func TestValidateLicenseRoundTrip(t *testing.T) {
	priv := testKeypair(t)
	key := signLicense(t, priv, validPayload())

	payload, err := ValidateLicenseWithKey(key, &priv.PublicKey)
	if err != nil {
		t.Fatalf("ValidateLicenseWithKey: %v", err)
	}
	if payload.Email != "dev@example.com" {
		t.Errorf("email = %q, want dev@example.com", payload.Email)
	}
	if payload.MaxSessions != 4 {
		t.Errorf("maxSessions = %d, want 4", payload.MaxSessions)
	}
}

func TestValidateLicenseErrors(t *testing.T) {
	priv := testKeypair(t)
	otherKey := testKeypair(t)

	expired := validPayload()
	expired.ExpiresAt = time.Now().Add(-time.Hour).Format(time.RFC3339)

	tests := []struct {
		name string
		key  string
		want error
	}{
		{"empty", "", ErrBadFormat},
		{"no separator", "deadbeef", ErrBadFormat},
		{"not base64", "!!!.???", ErrBadFormat},
		{"payload not json", base64.RawURLEncoding.EncodeToString([]byte("nope")) + "." + base64.RawURLEncoding.EncodeToString([]byte("sig")), ErrBadFormat},
		{"wrong signer", signLicense(t, otherKey, validPayload()), ErrBadSignature},
		{"expired", signLicense(t, priv, expired), ErrExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateLicenseWithKey(tt.key, &priv.PublicKey)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidateLicenseRejectsTamperedPayload(t *testing.T) {
	priv := testKeypair(t)
	key := signLicense(t, priv, validPayload())
	sigPart := strings.SplitN(key, ".", 2)[1]

	// Swap the payload for one granting more seats, keeping the signature.
	upgraded := validPayload()
	upgraded.MaxSessions = 100
	upgradedBytes, _ := json.Marshal(upgraded)
	tampered := base64.RawURLEncoding.EncodeToString(upgradedBytes) + "." + sigPart

	if _, err := ValidateLicenseWithKey(tampered, &priv.PublicKey); !errors.Is(err, ErrBadSignature) {
		t.Errorf("tampered payload validated: %v", err)
	}
}

func TestEmbeddedPublicKeyParses(t *testing.T) {
	if _, err := EmbeddedPublicKey(); err != nil {
		t.Fatalf("EmbeddedPublicKey: %v", err)
	}
}

func TestLicenseFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".agentide", "license.key")

	if err := WriteLicenseFile(path, "payload.signature"); err != nil {
		t.Fatalf("WriteLicenseFile: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat license file: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		t.Errorf("license file mode = %o, want 0600", mode)
	}

	key, err := ReadLicenseFile(path)
	if err != nil {
		t.Fatalf("ReadLicenseFile: %v", err)
	}
	if key != "payload.signature" {
		t.Errorf("read key = %q", key)
	}
}

func TestReadLicenseFileMissing(t *testing.T) {
	key, err := ReadLicenseFile(filepath.Join(t.TempDir(), "absent.key"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if key != "" {
		t.Errorf("key = %q, want empty", key)
	}
}
