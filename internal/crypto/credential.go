// Package crypto hashes the server's admin credential.
//
// The plaintext credential is hashed once at startup with a random salt and dropped;
// every presented key is hashed with the same salt and compared in constant time.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	saltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecret returns the Argon2id hash of secret using the provided salt.
func HashSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret checks secret against an expected hash and salt.
func VerifySecret(secret, salt, expected []byte) bool {
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// Credential is a hashed admin key.
type Credential struct {
	salt []byte
	hash []byte
}

// NewCredential hashes secret with a fresh salt. An empty secret is rejected.
func NewCredential(secret string) (*Credential, error) {
	if secret == "" {
		return nil, errors.New("empty admin credential")
	}
	salt, err := RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	return &Credential{salt: salt, hash: HashSecret([]byte(secret), salt)}, nil
}

// Verify reports whether candidate matches the credential.
func (c *Credential) Verify(candidate string) bool {
	if c == nil || candidate == "" {
		return false
	}
	return VerifySecret([]byte(candidate), c.salt, c.hash)
}
