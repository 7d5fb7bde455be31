package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-for-testing"

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken("ident-alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.Subject != "ident-alice" {
		t.Errorf("Subject = %q, want ident-alice", claims.Subject)
	}
	if claims.Type != TokenTypeAccess {
		t.Errorf("Type = %q, want %q", claims.Type, TokenTypeAccess)
	}
}

func TestGenerateAccessToken_EmptyIdentity(t *testing.T) {
	svc := NewJWTService(testSecret)

	_, err := svc.GenerateAccessToken("")
	if !errors.Is(err, ErrEmptyIdentity) {
		t.Errorf("expected ErrEmptyIdentity, got %v", err)
	}
}

func TestValidateToken_InvalidCases(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"garbage token", "not.a.jwt"},
		{"wrong secret", mustSign(t, "other-secret", jwt.RegisteredClaims{
			Subject:   "ident-alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}, TokenTypeAccess)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestValidateToken_Expired(t *testing.T) {
	// Zero leeway so an expired token fails immediately.
	svc := NewJWTServiceWithRotationAndLeeway(testSecret, "", 0)

	expired := mustSign(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ident-alice",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}, TokenTypeAccess)

	_, err := svc.ValidateToken(expired)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateToken_LeewayToleratesSkew(t *testing.T) {
	svc := NewJWTServiceWithRotationAndLeeway(testSecret, "", time.Minute)

	// Expired ten seconds ago, inside the one minute leeway.
	justExpired := mustSign(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ident-alice",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
	}, TokenTypeAccess)

	if _, err := svc.ValidateToken(justExpired); err != nil {
		t.Errorf("expected token within leeway to validate, got %v", err)
	}
}

func TestValidateToken_SecretRotation(t *testing.T) {
	oldSvc := NewJWTService("old-secret-value")
	token, err := oldSvc.GenerateAccessToken("ident-alice")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	// After rotation, tokens signed with the previous secret still validate.
	rotated := NewJWTServiceWithRotation("new-secret-value", "old-secret-value")
	claims, err := rotated.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken after rotation: %v", err)
	}
	if claims.Subject != "ident-alice" {
		t.Errorf("Subject = %q, want ident-alice", claims.Subject)
	}

	// Without the previous secret configured, the old token is rejected.
	noRotation := NewJWTService("new-secret-value")
	if _, err := noRotation.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	token, err := svc.GenerateAccessToken("ident-bob")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	identity, err := svc.VerifyAccessToken(token)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}
	if identity != "ident-bob" {
		t.Errorf("identity = %q, want ident-bob", identity)
	}
}

func TestVerifyAccessToken_RejectsRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	refresh := mustSign(t, testSecret, jwt.RegisteredClaims{
		Subject:   "ident-bob",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(RefreshTokenExpiry)),
	}, TokenTypeRefresh)

	_, err := svc.VerifyAccessToken(refresh)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for refresh token, got %v", err)
	}
}

func TestVerifyAccessToken_RejectsMissingSubject(t *testing.T) {
	svc := NewJWTService(testSecret)

	noSubject := mustSign(t, testSecret, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}, TokenTypeAccess)

	_, err := svc.VerifyAccessToken(noSubject)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for missing subject, got %v", err)
	}
}

func TestValidateToken_RejectsUnexpectedAlgorithm(t *testing.T) {
	svc := NewJWTService(testSecret)

	// alg=none with an empty signature must never validate.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ident-alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: TokenTypeAccess,
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("signing unsecured token: %v", err)
	}

	if _, err := svc.ValidateToken(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func mustSign(t *testing.T, secret string, reg jwt.RegisteredClaims, typ string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: reg, Type: typ})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}
