// Package fieldcrypto contains client-side primitives for field-level AEAD and key derivation.
//
// Every field is sealed independently with XChaCha20-Poly1305 under a caller-provided
// 32-byte key and a fresh random 24-byte nonce. The package never stores keys.
package fieldcrypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// Params
const (
	KeyLen  = chacha20poly1305.KeySize
	SaltLen = 16

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1

	keyCheckPlaintext = "notesync-key-check-v1"
)

var b64 = base64.StdEncoding

func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives the master field key from a passphrase and salt using Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, KeyLen)
}

// DeriveFieldKey derives a purpose-bound key via HKDF-SHA256 using label as info.
func DeriveFieldKey(master []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, master, nil, []byte(label))
	key := make([]byte, KeyLen)
	_, err := r.Read(key)
	return key, err
}

// EncryptField seals plaintext under key with a random nonce.
func EncryptField(plaintext string, key []byte) (model.Envelope, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encrypt field: %w", err)
	}
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return model.Envelope{}, fmt.Errorf("encrypt field: nonce: %w", err)
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)
	return model.Envelope{
		Ciphertext: b64.EncodeToString(ct),
		IV:         b64.EncodeToString(nonce),
	}, nil
}

// DecryptField opens env with key. Any malformed input or authentication failure
// is reported as errs.ErrDecryption.
func DecryptField(env model.Envelope, key []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	nonce, err := b64.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", errs.ErrDecryption, err)
	}
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return "", fmt.Errorf("%w: iv length %d", errs.ErrDecryption, len(nonce))
	}
	ct, err := b64.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", errs.ErrDecryption, err)
	}
	if len(ct) < aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", errs.ErrDecryption)
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errs.ErrDecryption, err)
	}
	return string(pt), nil
}

// KeyCheck returns an envelope that VerifyKey accepts only for the same key.
// Stored in client config to reject a wrong passphrase before any sync.
func KeyCheck(key []byte) (model.Envelope, error) {
	return EncryptField(keyCheckPlaintext, key)
}

// VerifyKey reports whether check was produced by KeyCheck with key.
func VerifyKey(check model.Envelope, key []byte) bool {
	pt, err := DecryptField(check, key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(pt), []byte(keyCheckPlaintext)) == 1
}

// SealRecord encrypts plain into the envelope map of a record of the given kind.
// Unknown field names are rejected.
func SealRecord(kind model.Kind, plain map[string]string, key []byte) (map[string]model.Envelope, error) {
	out := make(map[string]model.Envelope, len(plain))
	for name, v := range plain {
		if !kind.HasField(name) {
			return nil, fmt.Errorf("%w: %s has no field %q", errs.ErrValidation, kind, name)
		}
		env, err := EncryptField(v, key)
		if err != nil {
			return nil, err
		}
		out[name] = env
	}
	return out, nil
}

// OpenRecord decrypts a record into its entity form. Tombstones carry no fields.
func OpenRecord(rec model.Record, key []byte) (model.Entity, error) {
	e := model.Entity{
		ID: rec.ID, UserID: rec.UserID, Kind: rec.Kind,
		Date: rec.Date, Deleted: rec.Deleted,
		CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	}
	if len(rec.TagIDs) > 0 {
		e.TagIDs = append(e.TagIDs, rec.TagIDs...)
	}
	if rec.Deleted {
		return e, nil
	}
	e.Fields = make(map[string]string, len(rec.Fields))
	for name, env := range rec.Fields {
		pt, err := DecryptField(env, key)
		if err != nil {
			return model.Entity{}, fmt.Errorf("%s %s field %q: %w", rec.Kind, rec.ID, name, err)
		}
		e.Fields[name] = pt
	}
	return e, nil
}
