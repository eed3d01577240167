package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signwatch/internal/config"
)

func TestAuthenticator_IssuesValidToken(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{
		Enabled:   true,
		Username:  "operator",
		Password:  "s3cret",
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	})
	require.NoError(t, err)
	assert.True(t, a.IsEnabled())

	token, exp, err := a.Authenticate("operator", "s3cret")
	require.NoError(t, err)
	assert.InDelta(t, time.Now().Add(time.Hour).Unix(), exp, 5)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
}

func TestAuthenticator_RejectsBadCredentials(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{Enabled: true, Username: "admin", Password: "pw", JWTSecret: "k"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("root", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticator_AcceptsBcryptHash(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)

	a, err := NewAuthenticator(config.AuthConfig{Enabled: true, Password: hash, JWTSecret: "k"})
	require.NoError(t, err)

	_, _, err = a.Authenticate("admin", "pw")
	assert.NoError(t, err)
}

func TestAuthenticator_Disabled(t *testing.T) {
	a, err := NewAuthenticator(config.AuthConfig{})
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("k", time.Minute)
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, _, err := m.GenerateToken("admin")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTManager_WrongSecret(t *testing.T) {
	token, _, err := NewJWTManager("one", time.Hour).GenerateToken("admin")
	require.NoError(t, err)

	_, err = NewJWTManager("two", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = NewJWTManager("one", time.Hour).ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
