package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT("admin", RoleAdmin)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims["role"] != RoleAdmin || claims["sub"] != "admin" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestValidateJWTRejectsForeignAndExpiredTokens(t *testing.T) {
	foreign, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": RoleAdmin,
		"iss":  issuer,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("some-other-secret"))
	if _, err := ValidateJWT(foreign); err == nil {
		t.Fatal("token signed with a different key was accepted")
	}

	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": RoleAdmin,
		"iss":  issuer,
		"exp":  time.Now().Add(-time.Minute).Unix(),
	}).SignedString(signingKey())
	if _, err := ValidateJWT(expired); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestIsAdmin(t *testing.T) {
	handler := IsAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	adminToken, _ := GenerateJWT("admin", RoleAdmin)
	viewerToken, _ := GenerateJWT("viewer", "viewer")

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewerToken, http.StatusForbidden},
		{"admin", "Bearer " + adminToken, http.StatusNoContent},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestCheckAdminPassword(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	t.Setenv("ADMIN_PASSWORD", "")
	if CheckAdminPassword("anything") {
		t.Fatal("login accepted without any configured password")
	}

	t.Setenv("ADMIN_PASSWORD", "plain-secret")
	if !CheckAdminPassword("plain-secret") || CheckAdminPassword("wrong") {
		t.Fatal("plain password comparison is wrong")
	}

	hash, err := HashPassword("hashed-secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	t.Setenv("ADMIN_PASSWORD_HASH", hash)
	if !CheckAdminPassword("hashed-secret") {
		t.Fatal("bcrypt hash did not verify")
	}
	if CheckAdminPassword("plain-secret") {
		t.Fatal("plain password accepted while a hash is configured")
	}
}
