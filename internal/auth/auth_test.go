package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticateRoundTrip(t *testing.T) {
	m, err := NewManager("secret", "agentrtd", "admin", "hunter2", time.Minute)
	require.NoError(t, err)

	token, expiresAt, err := m.Authenticate("admin", "hunter2")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	m, err := NewManager("secret", "agentrtd", "admin", "hunter2", time.Minute)
	require.NoError(t, err)

	_, _, err = m.Authenticate("admin", "wrong")
	assert.Error(t, err)
}

func TestAuthenticateRejectsUnknownUsername(t *testing.T) {
	m, err := NewManager("secret", "agentrtd", "admin", "hunter2", time.Minute)
	require.NoError(t, err)

	_, _, err = m.Authenticate("nobody", "hunter2")
	assert.Error(t, err)
}

func TestParseTokenRejectsTamperedSecret(t *testing.T) {
	m, err := NewManager("secret", "agentrtd", "admin", "hunter2", time.Minute)
	require.NoError(t, err)
	other, err := NewManager("different-secret", "agentrtd", "admin", "hunter2", time.Minute)
	require.NoError(t, err)

	token, _, err := m.Authenticate("admin", "hunter2")
	require.NoError(t, err)

	_, err = other.ParseToken(token)
	assert.Error(t, err)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager("", "agentrtd", "admin", "hunter2", time.Minute)
	assert.Error(t, err)
}
