// Copyright (C) 2025 Mindwell AI (oss@mindwell.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it using the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo / UserID)
//
// # Local Behavior
//
// When using NopAuthProvider (default, no MINDWELL_AUTH_SECRET set),
// all requests are authenticated as "local-user". This lets a
// single-person deployment and the CLI work without any authentication
// infrastructure.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Auth Provider
// =============================================================================

// ErrUnauthorized indicates the token is missing, malformed, expired
// or has a bad signature.
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo describes the authenticated caller.
type AuthInfo struct {
	UserID      string
	DisplayName string
}

// AuthProvider validates bearer tokens.
//
// Implementations must be safe for concurrent calls; the middleware
// validates every request.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	// Returns ErrUnauthorized (possibly wrapped) for invalid tokens.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider authenticates every request as a fixed local user.
// Used when no auth secret is configured.
type NopAuthProvider struct{}

// Validate always succeeds with the local user identity.
func (NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user", DisplayName: "Local User"}, nil
}

// HMACAuthProvider validates self-contained tokens of the form
//
//	<user_id>:<expiry_unix>:<hex hmac-sha256(user_id:expiry_unix, secret)>
//
// Tokens are issued out of band (deployment scripts, a companion app
// backend); the orchestrator only verifies them.
type HMACAuthProvider struct {
	secret []byte
	now    func() time.Time
}

// NewHMACAuthProvider builds a provider around the shared secret.
func NewHMACAuthProvider(secret string) (*HMACAuthProvider, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret must not be empty")
	}
	return &HMACAuthProvider{secret: []byte(secret), now: time.Now}, nil
}

// Validate checks the token signature and expiry.
func (p *HMACAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed token: %w", ErrUnauthorized)
	}
	userID, expiryStr, signature := parts[0], parts[1], parts[2]
	if userID == "" {
		return nil, fmt.Errorf("empty user id: %w", ErrUnauthorized)
	}

	expiry, err := strconv.ParseInt(expiryStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed expiry: %w", ErrUnauthorized)
	}
	if p.now().Unix() > expiry {
		return nil, fmt.Errorf("token expired: %w", ErrUnauthorized)
	}

	mac := hmac.New(sha256.New, p.secret)
	fmt.Fprintf(mac, "%s:%s", userID, expiryStr)
	expected := hex.EncodeToString(mac.Sum(nil))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, fmt.Errorf("bad signature: %w", ErrUnauthorized)
	}

	return &AuthInfo{UserID: userID}, nil
}

// MintToken issues a token for the user, valid until expiry. Exposed
// for tests and local tooling.
func (p *HMACAuthProvider) MintToken(userID string, expiry time.Time) string {
	expiryStr := strconv.FormatInt(expiry.Unix(), 10)
	mac := hmac.New(sha256.New, p.secret)
	fmt.Fprintf(mac, "%s:%s", userID, expiryStr)
	return fmt.Sprintf("%s:%s:%s", userID, expiryStr, hex.EncodeToString(mac.Sum(nil)))
}

// Compile-time interface checks.
var (
	_ AuthProvider = NopAuthProvider{}
	_ AuthProvider = (*HMACAuthProvider)(nil)
)

// =============================================================================
// Context Helpers
// =============================================================================

// authInfoKey is the context key for storing AuthInfo. Using a typed
// key prevents collisions with other context values.
const authInfoKey = "mindwell_auth_info"

// SetAuthInfo stores the authenticated user info in the Gin context.
// Called by AuthMiddleware after successful authentication.
func SetAuthInfo(c *gin.Context, info *AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo retrieves the authenticated user info from the Gin
// context. Returns nil if no AuthInfo is present.
func GetAuthInfo(c *gin.Context) *AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// UserID returns the authenticated user id, or "anonymous" when the
// request carries no auth info.
func UserID(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil {
		return info.UserID
	}
	return "anonymous"
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates requests.
//
// # Description
//
// Extracts the bearer token from the Authorization header, validates it
// using the provided AuthProvider, and stores the resulting AuthInfo
// in the context for downstream handlers.
//
// If the header is missing or malformed, the token passed to Validate
// is the empty string. NopAuthProvider accepts this and returns the
// local user.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.AuthMiddleware(provider))
//
// # Limitations
//
//   - Only supports Bearer token authentication
//   - Does not cache validation results (validates every request)
func AuthMiddleware(provider AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the Authorization header expecting format: "Bearer <token>".
// Returns empty string if the header is missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
