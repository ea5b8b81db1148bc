package auth

import (
	"crypto/rsa"
	"fmt"
	"net/http"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
)

// Service owns everything between a license key and an authenticated
// request: validation, activation, cookie issue/verify, and the activation
// rate limiter. authRequired is fixed at startup from the bind address.
type Service struct {
	store        *db.Store
	pub          *rsa.PublicKey
	secret       string
	secure       bool
	authRequired bool

	Limiter *ActivationLimiter
}

// NewService builds the auth service against the embedded public key and
// records the derived auth mode in the store.
func NewService(store *db.Store, secure, authRequired bool) (*Service, error) {
	pub, err := EmbeddedPublicKey()
	if err != nil {
		return nil, err
	}
	return NewServiceWithKey(store, pub, secure, authRequired)
}

// NewServiceWithKey is NewService with an explicit verification key; tests
// use it with throwaway keypairs.
func NewServiceWithKey(store *db.Store, pub *rsa.PublicKey, secure, authRequired bool) (*Service, error) {
	cfg, err := store.GetAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}
	if err := store.SetAuthRequired(authRequired); err != nil {
		return nil, fmt.Errorf("recording auth mode: %w", err)
	}

	return &Service{
		store:        store,
		pub:          pub,
		secret:       cfg.JWTSecret,
		secure:       secure,
		authRequired: authRequired,
		Limiter:      NewActivationLimiter(),
	}, nil
}

// AuthRequired reports the auth mode fixed at startup.
func (s *Service) AuthRequired() bool {
	return s.authRequired
}

// Activate validates a license key, persists it, and returns the payload
// plus a freshly issued session cookie.
func (s *Service) Activate(key string) (*LicensePayload, *http.Cookie, error) {
	payload, err := ValidateLicenseWithKey(key, s.pub)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.SetLicense(
		HashLicenseKey(key),
		payload.Email, payload.Plan, payload.MaxSessions,
		payload.ExpiresAt, payload.IssuedAt,
	); err != nil {
		return nil, nil, fmt.Errorf("persisting license: %w", err)
	}

	token, err := IssueToken(s.secret, payload)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("email", payload.Email).Str("plan", payload.Plan).Msg("license activated")
	return payload, SessionCookie(token, s.secure), nil
}

// VerifyRequest authenticates an HTTP request from its session cookie.
func (s *Service) VerifyRequest(r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return VerifyToken(s.secret, cookie.Value)
}

// VerifyCookieValue authenticates a raw cookie value (WebSocket upgrades
// parse the Cookie header themselves).
func (s *Service) VerifyCookieValue(value string) (*Claims, error) {
	return VerifyToken(s.secret, value)
}

// Logout returns the cookie that clears the session.
func (s *Service) Logout() *http.Cookie {
	return ClearedSessionCookie(s.secure)
}

// AuthConfig exposes the stored auth row for the status endpoint.
func (s *Service) AuthConfig() (*db.AuthConfig, error) {
	return s.store.GetAuthConfig()
}

// CheckBootLicense validates a license file found on disk at startup. The
// outcome is logged; a bad or missing license never blocks boot because the
// browser gate can still activate.
func (s *Service) CheckBootLicense(path string) {
	key, err := ReadLicenseFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not read license file")
		return
	}
	if key == "" {
		log.Info().Msg("no license file present; activation gate will prompt")
		return
	}

	payload, err := ValidateLicenseWithKey(key, s.pub)
	if err != nil {
		log.Warn().Err(err).Msg("stored license failed validation")
		return
	}

	if err := s.store.SetLicense(
		HashLicenseKey(key),
		payload.Email, payload.Plan, payload.MaxSessions,
		payload.ExpiresAt, payload.IssuedAt,
	); err != nil {
		log.Warn().Err(err).Msg("could not persist boot license")
		return
	}
	log.Info().Str("email", payload.Email).Str("plan", payload.Plan).Msg("license validated at boot")
}
