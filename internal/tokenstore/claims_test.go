package tokenstore

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectAccessToken(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "42",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("unknown-to-client"))
	require.NoError(t, err)

	claims, err := InspectAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.True(t, claims.ExpiresAt.Equal(exp))
	assert.False(t, claims.Expired(exp.Add(-time.Minute)))
	assert.True(t, claims.Expired(exp))
}

func TestInspectAccessToken_Opaque(t *testing.T) {
	_, err := InspectAccessToken("opaque-token")
	require.Error(t, err)
}

func TestClaims_NoExpiryNeverExpires(t *testing.T) {
	assert.False(t, Claims{}.Expired(time.Now()))
}
