// Package credential implements C1 Credential Verifier: username+password
// verification with lockout, and the password policy applied at set/change
// time. Grounded on app_teacher_ref/server/auth/auth.go's IsValidUser
// dummy-hash constant-time comparison pattern, and on
// original_source/crates/filehub-auth/src/password/{hasher,validator}.rs for
// the Argon2id parameters and zxcvbn-gated policy.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
	"golang.org/x/crypto/argon2"
)

func b64(b []byte) string {
	return base64.RawStdEncoding.EncodeToString(b)
}

func unb64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}

// passwordHashParams mirrors the original's Argon2id PHC-string parameters;
// tuned heavier than internal/store's at-rest field KDF since this runs once
// per login rather than continuously, per spec §4.1's "memory-hard KDF".
const (
	hashTime    = 3
	hashMemory  = 64 * 1024 // 64 MB
	hashThreads = 4
	hashKeyLen  = 32
	hashSaltLen = 16
)

// HashPassword derives a PHC-style encoded hash: $argon2id$v=19$m=...,t=...,p=...$salt$hash
func HashPassword(password string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		hashMemory, hashTime, hashThreads, b64(salt), b64(hash))
	return encoded, nil
}

// VerifyPassword checks password against an encoded PHC hash in
// constant time w.r.t. the comparison (the caller, internal/credential's
// Verify, is additionally responsible for running this for every lookup,
// including non-existent users, against a dummy hash — see verifier.go).
func VerifyPassword(password, encoded string) bool {
	salt, hash, mem, timeCost, threads, ok := parsePHC(encoded)
	if !ok {
		return false
	}
	candidate := argon2.IDKey([]byte(password), salt, timeCost, mem, threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(candidate, hash) == 1
}

func parsePHC(encoded string) (salt, hash []byte, mem uint32, timeCost uint32, threads uint8, ok bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, 0, 0, 0, false
	}
	var m uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return nil, nil, 0, 0, 0, false
	}
	s, err := unb64(parts[4])
	if err != nil {
		return nil, nil, 0, 0, 0, false
	}
	h, err := unb64(parts[5])
	if err != nil {
		return nil, nil, 0, 0, 0, false
	}
	return s, h, m, t, p, true
}

// PasswordPolicy is the spec §4.1 "applied at set/change, not at verify"
// policy: minimum length, case/digit/symbol mix, zxcvbn entropy gate, and
// rejection of reuse against the previous hash.
type PasswordPolicy struct {
	MinLength    int
	MinZxcvbnScore int // 0-4; spec ports original_source's Score::Three (>=3) gate
}

// DefaultPasswordPolicy matches spec §6's default `password_min_length = 8`
// plus the original's zxcvbn Score::Three threshold.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 8, MinZxcvbnScore: 3}
}

// Validate enforces spec §4.1's policy list. previousHash may be empty for
// initial account creation (no reuse check to perform).
func (p PasswordPolicy) Validate(password, username, previousHash string) error {
	if len(password) < p.MinLength {
		return fmt.Errorf("password must be at least %d characters", p.MinLength)
	}
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSymbol {
		return fmt.Errorf("password must contain uppercase, lowercase, digit, and a non-alphanumeric character")
	}

	strength := zxcvbn.PasswordStrength(password, []string{username})
	if strength.Score < p.MinZxcvbnScore {
		return fmt.Errorf("password is too weak (entropy score %d, need at least %d)", strength.Score, p.MinZxcvbnScore)
	}

	if previousHash != "" && VerifyPassword(password, previousHash) {
		return fmt.Errorf("new password must differ from the previous password")
	}

	return nil
}
