package auth

import (
	"context"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestSignAndParse(t *testing.T) {
	v, err := NewVerifier("secret")
	if err != nil {
		t.Fatal(err)
	}
	tok, err := v.Sign("u1", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	id, err := v.Parse("Bearer " + tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.UserID != "u1" || id.Role != RoleAdmin {
		t.Errorf("identity = %+v", id)
	}
}

func TestParseDefaultsRole(t *testing.T) {
	v, _ := NewVerifier("secret")
	tok, _ := v.Sign("u1", "", time.Hour)
	id, err := v.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.Role != RoleStudent {
		t.Errorf("role = %q, want %q", id.Role, RoleStudent)
	}
}

func TestParseRejects(t *testing.T) {
	v, _ := NewVerifier("secret")
	other, _ := NewVerifier("other")
	wrongKey, _ := other.Sign("u1", "", time.Hour)
	expired, _ := v.Sign("u1", "", -time.Minute)
	noUser, _ := v.Sign("", "", time.Hour)
	none, _ := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, Claims{UserID: "u1"}).
		SignedString(jwtlib.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"empty":     "",
		"bearer":    "Bearer ",
		"garbage":   "not.a.token",
		"wrong key": wrongKey,
		"expired":   expired,
		"no user":   noUser,
		"alg none":  none,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.Parse(tok); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewVerifier("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"  abc ":      "abc",
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"":            "",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestContextIdentity(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
	ctx := WithIdentity(context.Background(), Identity{UserID: "u1", Role: RoleStudent})
	id, ok := FromContext(ctx)
	if !ok || id.UserID != "u1" {
		t.Errorf("FromContext = %+v, %v", id, ok)
	}
}
