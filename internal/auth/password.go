package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"tibridge/internal/support"
)

// CheckAdminPassword compares password with ADMIN_PASSWORD_HASH (bcrypt)
// when set, otherwise with the plain ADMIN_PASSWORD. With neither set every
// login is refused.
func CheckAdminPassword(password string) bool {
	if password == "" {
		return false
	}
	if hash := strings.TrimSpace(support.GetEnv("ADMIN_PASSWORD_HASH", "")); hash != "" {
		return CheckPasswordHash(password, hash)
	}
	expected := support.GetEnv("ADMIN_PASSWORD", "")
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(expected)) == 1
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
