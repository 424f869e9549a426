package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestIssueAndVerify(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	userID := uuid.New()

	token, expires, err := svc.Issue(userID)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if time.Until(expires) <= 0 {
		t.Fatal("expected expiry in the future")
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if got != userID {
		t.Fatalf("unexpected user id %s", got)
	}
}

func TestVerifyRejects(t *testing.T) {
	svc := NewTokenService("test-secret", time.Hour)
	userID := uuid.New()
	token, _, err := svc.Issue(userID)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	other := NewTokenService("other-secret", time.Hour)
	expired := NewTokenService("test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := expired.Issue(userID)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"}})
	badSigned, err := badSubject.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	tests := []struct {
		name  string
		svc   *TokenService
		token string
	}{
		{name: "empty", svc: svc, token: ""},
		{name: "wrong secret", svc: other, token: token},
		{name: "expired", svc: svc, token: stale},
		{name: "alg none", svc: svc, token: unsigned},
		{name: "bad subject", svc: svc, token: badSigned},
		{name: "garbage", svc: svc, token: "a.b.c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.svc.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
