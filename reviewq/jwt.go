// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reviewq

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Darsh1153/trialbyte-v3-sub002/internal/auth"
)

const jwtIssuer = "trialbyte-reviewq"

// JWTAuth handles JWT authentication
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a new JWT authenticator
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{
		secret: []byte(secret),
	}
}

// JWTClaims carries the acting user (sub) and their role
type JWTClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues an HS256 token for userID acting as role
func (j *JWTAuth) GenerateToken(userID, role string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &JWTClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (j *JWTAuth) ValidateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	switch {
	case !ok || !token.Valid:
		return nil, fmt.Errorf("invalid token")
	case claims.Subject == "":
		return nil, fmt.Errorf("token has no subject")
	case !knownRole(claims.Role):
		return nil, fmt.Errorf("unknown role %q in token", claims.Role)
	}
	return claims, nil
}

func knownRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleUser
}

func (j *JWTAuth) claimsFromRequest(r *http.Request) (*JWTClaims, error) {
	scheme, tokenString, found := strings.Cut(r.Header.Get("Authorization"), " ")
	switch {
	case scheme == "":
		return nil, fmt.Errorf("authorization header required")
	case !found || scheme != "Bearer" || tokenString == "":
		return nil, fmt.Errorf("bearer token required")
	}
	claims, err := j.ValidateToken(tokenString)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return claims, nil
}

// Identify extracts user ID and role from the request (implements Authenticator)
func (j *JWTAuth) Identify(r *http.Request) (userID, role string, err error) {
	if uid, ok := auth.GetUserID(r.Context()); ok {
		role, _ := auth.GetRole(r.Context())
		return uid, role, nil
	}
	claims, err := j.claimsFromRequest(r)
	if err != nil {
		return "", "", err
	}
	return claims.Subject, claims.Role, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token's subject and role in the request context for Identify.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := j.claimsFromRequest(r)
		if err != nil {
			slog.Debug("Rejected request", "method", r.Method, "path", r.URL.Path, "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: CodeAuthenticationFailed, Message: err.Error()})
			return
		}
		ctx := auth.SetAuthContext(r.Context(), claims.Subject, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
