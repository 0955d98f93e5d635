package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleAdmin is the only role allowed on the payout admin API.
const RoleAdmin = "admin"

// AccessTokenClaims are the claims the marketplace auth service puts in its
// bearer tokens. The ledger only reads them.
type AccessTokenClaims struct {
	UserID uuid.UUID `json:"user_id"`
	Role   string    `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token carries the admin role.
func (c *AccessTokenClaims) IsAdmin() bool {
	return c != nil && c.Role == RoleAdmin
}
