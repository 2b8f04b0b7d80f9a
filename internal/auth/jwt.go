package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"tibridge/internal/support"
)

const (
	RoleAdmin     = "admin"
	tokenLifetime = 12 * time.Hour
	issuer        = "tibridge"
)

var (
	secretOnce sync.Once
	secret     []byte
)

func signingKey() []byte {
	secretOnce.Do(func() {
		if value := support.GetEnv("JWT_SECRET", ""); value != "" {
			secret = []byte(value)
			return
		}
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic(fmt.Sprintf("auth: generate jwt secret: %v", err))
		}
		log.Warn("JWT_SECRET not set, using a random secret; tokens will not survive a restart")
	})
	return secret
}

// GenerateJWT issues a signed token for subject with the given role.
func GenerateJWT(subject, role string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iss":  issuer,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenLifetime).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey())
}

// ValidateJWT verifies signature, issuer and expiry and returns the claims.
func ValidateJWT(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return signingKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
