package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-score-api/internal/models"
	appErrors "github.com/noah-isme/course-score-api/pkg/errors"
)

func TestTokenVerifierRoundTrip(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.Sign(&models.JWTClaims{
		UserID: "u1",
		Role:   models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	claims, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)
}

func TestTokenVerifierRejectsForeignSecret(t *testing.T) {
	token, err := NewTokenVerifier("other").Sign(&models.JWTClaims{UserID: "u1", Role: models.RoleAdmin})
	require.NoError(t, err)

	_, err = NewTokenVerifier("secret").ValidateToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestTokenVerifierRejectsExpired(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.Sign(&models.JWTClaims{
		UserID: "u1",
		Role:   models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenVerifierRequiresRole(t *testing.T) {
	verifier := NewTokenVerifier("secret")
	token, err := verifier.Sign(&models.JWTClaims{UserID: "u1"})
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.Error(t, err)
}
