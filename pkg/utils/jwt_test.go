package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestJWTLifecycle(t *testing.T) {
	if err := ConfigureJWT("test-jwt-secret"); err != nil {
		t.Fatalf("failed configuring jwt: %v", err)
	}

	userID := uuid.New()

	t.Run("generates and validates a token", func(t *testing.T) {
		token, err := GenerateToken(userID, "user@example.com")
		if err != nil {
			t.Fatalf("expected token generation to succeed: %v", err)
		}
		if token == "" {
			t.Fatal("expected non-empty token")
		}

		claims, err := ValidateToken(token)
		if err != nil {
			t.Fatalf("expected validation to succeed: %v", err)
		}
		if claims.UserID != userID {
			t.Fatalf("expected user id %s, got %s", userID, claims.UserID)
		}
		if claims.Email != "user@example.com" {
			t.Fatalf("unexpected email claim: %s", claims.Email)
		}
	})

	t.Run("rejects garbage tokens", func(t *testing.T) {
		if _, err := ValidateToken("not.a.token"); err == nil {
			t.Fatal("expected validation failure for garbage input")
		}
	})

	t.Run("rejects tokens signed with a different secret", func(t *testing.T) {
		claims := Claims{
			UserID: userID,
			Email:  "user@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		if err != nil {
			t.Fatalf("failed signing forged token: %v", err)
		}

		if _, err := ValidateToken(forged); err == nil {
			t.Fatal("expected validation failure for forged signature")
		}
	})

	t.Run("rejects expired tokens", func(t *testing.T) {
		claims := Claims{
			UserID: userID,
			Email:  "user@example.com",
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		}
		expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-jwt-secret"))
		if err != nil {
			t.Fatalf("failed signing expired token: %v", err)
		}

		if _, err := ValidateToken(expired); err == nil {
			t.Fatal("expected validation failure for expired token")
		}
	})
}
