// Package auth guards the admin endpoints: settings writes and test alerts.
// Callers authenticate with HTTP basic credentials or a Firebase ID token.
package auth

import (
	"context"
)

// Authentication methods recorded in Claims.Method.
const (
	MethodBasic    = "basic"
	MethodFirebase = "firebase"
	MethodOpen     = "open"
)

// Claims identifies the authenticated admin.
type Claims struct {
	UID           string `json:"uid"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Method        string `json:"method"`
}

// TokenVerifier verifies bearer ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*Claims, error)
}

type contextKey string

const claimsKey contextKey = "claims"

// WithClaims adds claims to ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims retrieves claims from ctx.
func GetClaims(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*Claims)
	return claims, ok
}
