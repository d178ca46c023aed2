package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestDevTokens(t *testing.T) {
	v := NewVerifier("", "")
	p, err := v.Verify("dispatcher")
	if err != nil || p.Role != RoleDispatcher || !p.CanPlan() {
		t.Fatalf("dispatcher: %+v %v", p, err)
	}
	p, err = v.Verify("inspector:I1")
	if err != nil || !p.CanReadInspector("I1") || p.CanReadInspector("I2") || p.CanPlan() {
		t.Fatalf("inspector: %+v %v", p, err)
	}
	for _, bad := range []string{"", "driver", "inspector"} {
		if _, err := v.Verify(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func sign(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestHMACTokens(t *testing.T) {
	v := NewVerifier("hmac", "s3cret")
	tok := sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"role": "Inspector", "sub": "I7", "exp": time.Now().Add(time.Hour).Unix()})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if p.Role != RoleInspector || p.InspectorID != "I7" {
		t.Fatalf("principal: %+v", p)
	}

	cases := map[string]string{
		"wrong secret": sign(t, "other", jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin"}),
		"expired":      sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}),
		"wrong alg":    sign(t, "s3cret", jwt.SigningMethodHS512, jwt.MapClaims{"role": "admin"}),
		"unknown role": sign(t, "s3cret", jwt.SigningMethodHS256, jwt.MapClaims{"role": "driver"}),
		"garbage":      "not.a.jwt",
	}
	for name, tok := range cases {
		if _, err := v.Verify(tok); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNoneMode(t *testing.T) {
	p, err := NewVerifier("none", "").Verify("")
	if err != nil || p.Role != RoleAdmin {
		t.Fatalf("none mode: %+v %v", p, err)
	}
}
