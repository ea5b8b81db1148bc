package db

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// ensureAuthConfig inserts the auth config singleton with a freshly generated
// JWT secret. The secret survives restarts so issued cookies stay valid.
func (s *Store) ensureAuthConfig() error {
	exists, err := Exists(s, `SELECT 1 FROM auth_config WHERE id = 1`)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating jwt secret: %w", err)
	}

	_, err = Run(s, `
		INSERT INTO auth_config (id, jwt_secret, updated_at) VALUES (1, ?, ?)`,
		hex.EncodeToString(secret), nowISO(),
	)
	return err
}

// GetAuthConfig returns the singleton auth config row.
func (s *Store) GetAuthConfig() (*AuthConfig, error) {
	var out AuthConfig
	var hash, email, plan, expiresAt, issuedAt sql.NullString
	var maxSessions sql.NullInt64
	var authRequired int
	err := s.db.QueryRow(`
		SELECT jwt_secret, license_key_hash, license_email, license_plan,
			license_max_sessions, license_expires_at, license_issued_at,
			auth_required, updated_at
		FROM auth_config WHERE id = 1`).Scan(
		&out.JWTSecret, &hash, &email, &plan, &maxSessions,
		&expiresAt, &issuedAt, &authRequired, &out.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	out.LicenseKeyHash = StringPtr(hash)
	out.LicenseEmail = StringPtr(email)
	out.LicensePlan = StringPtr(plan)
	out.LicenseExpiresAt = StringPtr(expiresAt)
	out.LicenseIssuedAt = StringPtr(issuedAt)
	out.LicenseMaxSessions = intPtr(maxSessions)
	out.AuthRequired = authRequired == 1
	return &out, nil
}

// SetLicense persists a validated license: the key's SHA-256 and the payload
// fields, for display and expiry checks without reparsing the key.
func (s *Store) SetLicense(keyHash, email, plan string, maxSessions int, expiresAt, issuedAt string) error {
	_, err := Run(s, `
		UPDATE auth_config
		SET license_key_hash = ?, license_email = ?, license_plan = ?,
			license_max_sessions = ?, license_expires_at = ?, license_issued_at = ?,
			updated_at = ?
		WHERE id = 1`,
		keyHash, email, plan, maxSessions, expiresAt, issuedAt, nowISO(),
	)
	return err
}

// ClearLicense drops the stored license fields (logout does not call this;
// it only clears the cookie — this is for explicit deactivation).
func (s *Store) ClearLicense() error {
	_, err := Run(s, `
		UPDATE auth_config
		SET license_key_hash = NULL, license_email = NULL, license_plan = NULL,
			license_max_sessions = NULL, license_expires_at = NULL,
			license_issued_at = NULL, updated_at = ?
		WHERE id = 1`,
		nowISO(),
	)
	return err
}

// SetAuthRequired records the auth mode derived from the bind address at
// startup.
func (s *Store) SetAuthRequired(required bool) error {
	_, err := Run(s,
		`UPDATE auth_config SET auth_required = ?, updated_at = ? WHERE id = 1`,
		boolToInt(required), nowISO(),
	)
	return err
}
