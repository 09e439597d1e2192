package user

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// saltLength is the length of the salt prefix in a legacy salted hash.
const saltLength = 20

// IsCorrectPassword reports whether password matches saltedHash. Two formats
// are accepted: bcrypt hashes, and a 20-character salt followed by
// base64(sha256(password + salt)).
func IsCorrectPassword(password, saltedHash string) bool {
	if strings.HasPrefix(saltedHash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(saltedHash), []byte(password)) == nil
	}
	if len(saltedHash) <= saltLength {
		return false
	}
	salt := saltedHash[:saltLength]
	want := saltedHash[saltLength:]
	got := legacyDigest(password, salt)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// LegacyHash builds a salted sha256 hash in the 20-character-salt format.
func LegacyHash(password, salt string) (string, error) {
	if len(salt) != saltLength {
		return "", fmt.Errorf("salt must be %d characters, got %d", saltLength, len(salt))
	}
	return salt + legacyDigest(password, salt), nil
}

func legacyDigest(password, salt string) string {
	sum := sha256.Sum256([]byte(password + salt))
	return base64.StdEncoding.EncodeToString(sum[:])
}
