package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// ParseAccessToken verifies signature, issuer and expiry of an HS256 token.
func ParseAccessToken(cfg config.JWTConfig, tokenString string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if claims.UserID == uuid.Nil {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}

// MintAccessToken signs a token the way the marketplace auth service does.
// Used by local tooling and tests.
func MintAccessToken(cfg config.JWTConfig, now time.Time, ttl time.Duration, userID uuid.UUID, role string) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is required")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	claims := AccessTokenClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwtSigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}
