package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmuthoni/samani-backend/pkg/enums"
)

// AccessTokenClaims is the typed JWT issued by the identity service. This
// service only consumes tokens; minting happens elsewhere.
type AccessTokenClaims struct {
	UserID uuid.UUID      `json:"user_id"`
	Role   enums.UserRole `json:"role"`
	jwt.RegisteredClaims
}
