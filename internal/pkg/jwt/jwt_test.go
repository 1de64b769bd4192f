package jwt

import (
	"errors"
	"testing"
	"time"
)

func TestOperatorTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Minute)

	token, err := svc.GenerateOperatorToken("alice", RoleOperator)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := svc.ValidateOperatorToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Operator != "alice" || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestValidateRejectsOtherSecret(t *testing.T) {
	token, err := NewService("secret", time.Minute).GenerateOperatorToken("alice", RoleOperator)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := NewService("other", time.Minute).ValidateOperatorToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	svc := NewService("secret", -time.Minute)
	token, err := svc.GenerateOperatorToken("alice", RoleOperator)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := svc.ValidateOperatorToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}
