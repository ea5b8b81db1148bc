package auth

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"
)

// License validation errors, surfaced as 401 variants by the API layer.
var (
	ErrBadFormat    = errors.New("license key is malformed")
	ErrBadSignature = errors.New("license signature is invalid")
	ErrExpired      = errors.New("license has expired")
)

// licensePubkeyPEM is the signing authority's public key, baked in at build
// time. The matching private key never ships.
//
//go:embed license_pubkey.pem
var licensePubkeyPEM []byte

// LicensePayload is the signed half of a license key.
type LicensePayload struct {
	Email       string `json:"email"`
	Plan        string `json:"plan"`
	MaxSessions int    `json:"maxSessions"`
	ExpiresAt   string `json:"expiresAt"`
	IssuedAt    string `json:"issuedAt"`
}

// EmbeddedPublicKey parses the baked-in verification key.
func EmbeddedPublicKey() (*rsa.PublicKey, error) {
	return ParsePublicKeyPEM(licensePubkeyPEM)
}

// ParsePublicKeyPEM parses a PKIX RSA public key.
func ParsePublicKeyPEM(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return rsaPub, nil
}

// ValidateLicense checks a key against the embedded public key.
func ValidateLicense(key string) (*LicensePayload, error) {
	pub, err := EmbeddedPublicKey()
	if err != nil {
		return nil, fmt.Errorf("loading embedded public key: %w", err)
	}
	return ValidateLicenseWithKey(key, pub)
}

// ValidateLicenseWithKey decodes `base64url(payload).base64url(signature)`,
// verifies the RSA-PSS-SHA256 signature and checks expiry.
func ValidateLicenseWithKey(key string, pub *rsa.PublicKey) (*LicensePayload, error) {
	key = strings.TrimSpace(key)
	parts := strings.Split(key, ".")
	if len(parts) != 2 {
		return nil, ErrBadFormat
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		// Tolerate padded input; license generators differ on this.
		payloadBytes, err = base64.URLEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, ErrBadFormat
		}
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		sig, err = base64.URLEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, ErrBadFormat
		}
	}

	var payload LicensePayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, ErrBadFormat
	}

	digest := sha256.Sum256(payloadBytes)
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil); err != nil {
		return nil, ErrBadSignature
	}

	expires, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return nil, ErrBadFormat
	}
	if !expires.After(time.Now()) {
		return nil, ErrExpired
	}

	return &payload, nil
}

// HashLicenseKey returns the hex SHA-256 of a key, the form persisted in the
// auth config row.
func HashLicenseKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// WriteLicenseFile stores an already-validated key at path with mode 0600,
// creating the parent directory when needed. Used by the activate CLI.
func WriteLicenseFile(path, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating license directory: %w", err)
	}
	return os.WriteFile(path, []byte(strings.TrimSpace(key)+"\n"), 0600)
}

// ReadLicenseFile loads a stored key; a missing file returns "" and no error.
func ReadLicenseFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
