package callback

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSigner(t *testing.T) {
	_, err := NewSigner("", "https://api.example.com", time.Hour)
	assert.ErrorIs(t, err, ErrSecretRequired)

	s, err := NewSigner("secret", "https://api.example.com/", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.Equal(t, "https://api.example.com", s.baseURL)
}

func TestSigner_URLRoundTrip(t *testing.T) {
	s, err := NewSigner("secret", "https://api.example.com", time.Hour)
	require.NoError(t, err)

	raw, err := s.URL("Kling")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/callbacks/kling", u.Path)
	assert.Equal(t, "api.example.com", u.Host)

	assert.NoError(t, s.Verify("kling", u.Query().Get("token")))
}

func TestSigner_URLWithoutBase(t *testing.T) {
	s, err := NewSigner("secret", "", time.Hour)
	require.NoError(t, err)

	raw, err := s.URL("kling")
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestSigner_TokensAreUnique(t *testing.T) {
	s, err := NewSigner("secret", "", time.Hour)
	require.NoError(t, err)

	a, err := s.Token("kling")
	require.NoError(t, err)
	b, err := s.Token("kling")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSigner_Verify(t *testing.T) {
	s, err := NewSigner("secret", "", time.Hour)
	require.NoError(t, err)
	valid, err := s.Token("kling")
	require.NoError(t, err)

	t.Run("wrong provider", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("veo", valid), ErrInvalidToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewSigner("other", "", time.Hour)
		require.NoError(t, err)
		assert.ErrorIs(t, other.Verify("kling", valid), ErrInvalidToken)
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, s.Verify("kling", ""), ErrInvalidToken)
	})

	t.Run("tampered", func(t *testing.T) {
		forged, err := s.Token("veo")
		require.NoError(t, err)
		parts := strings.Split(valid, ".")
		tampered := parts[0] + "." + strings.Split(forged, ".")[1] + "." + parts[2]
		assert.ErrorIs(t, s.Verify("veo", tampered), ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		past, err := NewSigner("secret", "", time.Minute)
		require.NoError(t, err)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }

		token, err := past.Token("kling")
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify("kling", token), ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := Claims{
			Provider: "kling",
			StandardClaims: jwt.StandardClaims{
				Issuer:    "someone-else",
				ExpiresAt: time.Now().Add(time.Hour).Unix(),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		err = s.Verify("kling", token)
		require.ErrorIs(t, err, ErrInvalidToken)
		assert.True(t, strings.Contains(err.Error(), "issuer"))
	})

	t.Run("none algorithm", func(t *testing.T) {
		claims := Claims{Provider: "kling", StandardClaims: jwt.StandardClaims{Issuer: issuer}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Verify("kling", token), ErrInvalidToken)
	})
}
