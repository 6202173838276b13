package service

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken creates a signed HS256 JWT whose subject is the external identity id.
// The mirror server accepts any such token signed with its key; deployments normally
// receive them from the identity provider, this is used for development and tests.
func IssueToken(signKey []byte, subject string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(signKey) == 0 || subject == "" {
		return "", time.Time{}, errors.New("empty sign key or subject")
	}
	exp := now.Add(ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(signKey)
	return signed, exp, err
}
