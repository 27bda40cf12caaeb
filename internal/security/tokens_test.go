package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"nutrition-platform/backend/internal/onboarding/domain"
)

func TestTokenProvider_IssueAndValidate(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, exp, err := p.IssueAccess("u1", domain.RoleNutritionist)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if token == "" || !exp.After(time.Now()) {
		t.Fatalf("token = %q, expiresAt = %v", token, exp)
	}
	id, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if id.UserID != "u1" || id.Role != domain.RoleNutritionist || id.TokenID == "" {
		t.Errorf("identity = %+v", id)
	}
}

func TestTokenProvider_ES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p := NewTokenProvider(key, key.Public(), "iss", "aud", time.Minute)
	token, _, err := p.IssueAccess("u2", domain.RolePatient)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	id, err := p.ValidateAccess(token)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if id.Role != domain.RolePatient {
		t.Errorf("role = %q, want %q", id.Role, domain.RolePatient)
	}
}

func TestTokenProvider_ValidateRejects(t *testing.T) {
	p, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	good, _, err := p.IssueAccess("u1", domain.RolePatient)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	otherAud := NewTokenProvider(p.privateKey, p.publicKey, "nutri-auth", "other", time.Minute)
	wrongAud, _, _ := otherAud.IssueAccess("u1", domain.RolePatient)
	otherIss := NewTokenProvider(p.privateKey, p.publicKey, "other", "nutri-api", time.Minute)
	wrongIss, _, _ := otherIss.IssueAccess("u1", domain.RolePatient)
	badRole, _, _ := p.IssueAccess("u1", domain.Role("admin"))
	noSubject, _, _ := p.IssueAccess("", domain.RolePatient)

	expired := NewTokenProvider(p.privateKey, p.publicKey, "nutri-auth", "nutri-api", time.Minute)
	expired.nowF = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, _ := expired.IssueAccess("u1", domain.RolePatient)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.jwt"},
		{"tampered", good[:len(good)-4] + "AAAA"},
		{"wrong audience", wrongAud},
		{"wrong issuer", wrongIss},
		{"unknown role", badRole},
		{"no subject", noSubject},
		{"expired", old},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.ValidateAccess(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("ValidateAccess err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestTokenProvider_VerifyOnly(t *testing.T) {
	signing, err := NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	token, _, err := signing.IssueAccess("u1", domain.RolePatient)
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	_, pub, err := LoadKeys("", testPublicKeyPEM)
	if err != nil {
		t.Fatalf("LoadKeys: %v", err)
	}
	verifier := NewTokenProvider(nil, pub, "nutri-auth", "nutri-api", time.Minute)
	if _, err := verifier.ValidateAccess(token); err != nil {
		t.Errorf("ValidateAccess: %v", err)
	}
	if _, _, err := verifier.IssueAccess("u1", domain.RolePatient); !errors.Is(err, ErrSigningDisabled) {
		t.Errorf("IssueAccess err = %v, want ErrSigningDisabled", err)
	}
}
