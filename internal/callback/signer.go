// Package callback issues and verifies the signed URLs providers post
// completion notifications to.
package callback

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

// Static errors for callback tokens.
var (
	// ErrSecretRequired is returned when the signer has no secret.
	ErrSecretRequired = errors.New("callback: secret is required")
	// ErrInvalidToken is returned when a token fails signature, expiry or scope checks.
	ErrInvalidToken = errors.New("callback: invalid token")
)

const issuer = "videotask-api"

// DefaultTTL is the token lifetime used when none is configured.
const DefaultTTL = 48 * time.Hour

// Claims are the JWT claims of a callback token.
type Claims struct {
	Provider string `json:"provider"`
	jwt.StandardClaims
}

// Signer issues provider-scoped callback tokens.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// NewSigner creates a Signer. baseURL is the public root of this service;
// when empty, URL returns an empty string and providers are polled only.
func NewSigner(secret, baseURL string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrSecretRequired
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Token returns a signed token scoped to provider.
func (s *Signer) Token(provider string) (string, error) {
	now := s.now()
	claims := Claims{
		Provider: strings.ToLower(provider),
		StandardClaims: jwt.StandardClaims{
			Id:        uuid.NewString(),
			Issuer:    issuer,
			IssuedAt:  now.Unix(),
			NotBefore: now.Add(-5 * time.Second).Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["typ"] = "JWT"
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("callback: sign token: %w", err)
	}
	return signed, nil
}

// URL returns the callback URL for provider, or "" without a public base URL.
func (s *Signer) URL(provider string) (string, error) {
	if s.baseURL == "" {
		return "", nil
	}
	token, err := s.Token(provider)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/callbacks/%s?token=%s", s.baseURL, url.PathEscape(strings.ToLower(provider)), url.QueryEscape(token)), nil
}

// Verify checks the signature, expiry, issuer and provider scope of token.
func (s *Signer) Verify(provider, token string) error {
	if token == "" {
		return fmt.Errorf("%w: missing", ErrInvalidToken)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	if !claims.VerifyIssuer(issuer, true) {
		return fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	if !strings.EqualFold(claims.Provider, provider) {
		return fmt.Errorf("%w: token not issued for provider %q", ErrInvalidToken, provider)
	}
	return nil
}
