package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueToken(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	now := time.Now().Truncate(time.Second)
	tok, exp, err := IssueToken(key, "ext-1", time.Hour, now)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("exp: %v", exp)
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "ext-1" {
		t.Fatalf("subject: %q", claims.Subject)
	}

	if _, _, err := IssueToken(nil, "ext-1", time.Hour, now); err == nil {
		t.Fatalf("want error for empty key")
	}
}
