package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jmuthoni/samani-backend/pkg/config"
	"github.com/jmuthoni/samani-backend/pkg/enums"
)

func mintTestToken(t *testing.T, cfg config.JWTConfig, claims AccessTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	require.NoError(t, err)
	return signed
}

func TestParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "samani-identity"}
	userID := uuid.New()

	signed := mintTestToken(t, cfg, AccessTokenClaims{
		UserID: userID,
		Role:   enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := ParseAccessToken(cfg, signed)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, enums.UserRoleBuyer, claims.Role)
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "samani-identity"}

	signed := mintTestToken(t, cfg, AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	})

	_, err := ParseAccessToken(cfg, signed)
	require.Error(t, err)
}

func TestParseAccessTokenRejectsWrongIssuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "samani-identity"}

	signed := mintTestToken(t, config.JWTConfig{Secret: "test-secret", Issuer: "other"}, AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.UserRoleBuyer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "other",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := ParseAccessToken(cfg, signed)
	require.Error(t, err)
}

func TestParseAccessTokenRejectsBadRole(t *testing.T) {
	cfg := config.JWTConfig{Secret: "test-secret", Issuer: "samani-identity"}

	signed := mintTestToken(t, cfg, AccessTokenClaims{
		UserID: uuid.New(),
		Role:   enums.UserRole("superuser"),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	_, err := ParseAccessToken(cfg, signed)
	require.Error(t, err)
}
