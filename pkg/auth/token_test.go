package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "packfinderz"}

func TestMintAndParseAccessToken(t *testing.T) {
	userID := uuid.New()
	token, err := MintAccessToken(testJWT, time.Now(), 10*time.Minute, userID, RoleAdmin)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	claims, err := ParseAccessToken(testJWT, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}
	if claims.UserID != userID {
		t.Fatalf("expected user %s, got %s", userID, claims.UserID)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role, got %q", claims.Role)
	}
	if claims.Issuer != testJWT.Issuer {
		t.Fatalf("unexpected issuer %s", claims.Issuer)
	}
}

func TestParseAccessTokenRejectsTampering(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now(), time.Minute, uuid.New(), RoleAdmin)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
	other := testJWT
	other.Issuer = "someone-else"
	if _, err := ParseAccessToken(other, token); err == nil {
		t.Fatal("expected issuer mismatch error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	token, err := MintAccessToken(testJWT, time.Now().Add(-time.Hour), 15*time.Minute, uuid.New(), RoleAdmin)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	_, err = ParseAccessToken(testJWT, token)
	if err == nil || !strings.Contains(err.Error(), "expired") {
		t.Fatalf("expected expiration error, got %v", err)
	}
}

func TestParseAccessTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := AccessTokenClaims{
		UserID: uuid.New(),
		Role:   RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testJWT.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testJWT.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, token); err == nil {
		t.Fatal("expected HS512 token to be rejected")
	}
}

func TestParseAccessTokenRequiresExpiry(t *testing.T) {
	claims := AccessTokenClaims{
		UserID:           uuid.New(),
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: testJWT.Issuer},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWT.Secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseAccessToken(testJWT, token); err == nil {
		t.Fatal("expected token without exp to be rejected")
	}
}
