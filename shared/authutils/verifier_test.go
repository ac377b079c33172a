package authutils

import (
	"context"
	"testing"
	"time"

	"fairytale-server/shared/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims models.Claims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestJWTVerifier_Valid(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, nil)
	require.NoError(t, err)

	userID := uuid.New()
	tok := signToken(t, models.Claims{
		UserID:           userID,
		Roles:            []string{models.RoleUser},
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, testSecret)

	claims, err := v.VerifyToken(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
}

func TestJWTVerifier_Errors(t *testing.T) {
	v, err := NewJWTVerifier(testSecret, nil)
	require.NoError(t, err)

	expired := signToken(t, models.Claims{
		UserID:           uuid.New(),
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}, testSecret)
	_, err = v.VerifyToken(context.Background(), expired)
	assert.ErrorIs(t, err, models.ErrTokenExpired)

	wrongSecret := signToken(t, models.Claims{UserID: uuid.New()}, "other")
	_, err = v.VerifyToken(context.Background(), wrongSecret)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	_, err = v.VerifyToken(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, models.ErrTokenMalformed)

	noUser := signToken(t, models.Claims{}, testSecret)
	_, err = v.VerifyToken(context.Background(), noUser)
	assert.ErrorIs(t, err, models.ErrTokenInvalid)
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier("", nil)
	assert.Error(t, err)
}
