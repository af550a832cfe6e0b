package services_test

import (
	"testing"
	"time"

	"voicemesh/internal/core/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := services.NewAuthService(true, "test-secret", time.Minute)
	assert.True(t, auth.Enabled())

	token, err := auth.GenerateJoinToken("alice", true)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.DisplayName)
	assert.True(t, claims.Owner)
}

func TestAuthService_RejectsBadToken(t *testing.T) {
	auth := services.NewAuthService(true, "test-secret", time.Minute)

	_, err := auth.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, services.ErrInvalidToken)

	_, err = auth.ValidateToken("")
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestAuthService_RejectsWrongSecret(t *testing.T) {
	issuer := services.NewAuthService(true, "secret-a", time.Minute)
	verifier := services.NewAuthService(true, "secret-b", time.Minute)

	token, err := issuer.GenerateJoinToken("alice", false)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrInvalidToken)
}

func TestAuthService_RejectsExpiredToken(t *testing.T) {
	auth := services.NewAuthService(true, "test-secret", -time.Minute)

	token, err := auth.GenerateJoinToken("alice", false)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, services.ErrExpiredToken)
}
