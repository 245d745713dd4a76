package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	firebase "firebase.google.com/go/v4"
	firebaseAuth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// ErrNotAdmin is returned for valid tokens whose user is not an admin.
var ErrNotAdmin = errors.New("user is not an admin")

// idTokenVerifier is satisfied by firebaseAuth.Client and firebaseAuth.TenantClient.
type idTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseAuth.Token, error)
}

// FirebaseConfig holds the Firebase project used for admin sign-in.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
	TenantID        string
	// AllowedEmails restricts admins to these verified addresses.
	// Empty means any user of the project.
	AllowedEmails []string
}

// FirebaseTokenVerifier verifies Firebase ID tokens with the Admin SDK.
type FirebaseTokenVerifier struct {
	verifier idTokenVerifier
	allowed  []string
}

var _ TokenVerifier = (*FirebaseTokenVerifier)(nil)

// NewFirebaseTokenVerifier creates a verifier for cfg.ProjectID.
func NewFirebaseTokenVerifier(ctx context.Context, cfg FirebaseConfig) (*FirebaseTokenVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firebase project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth client: %w", err)
	}

	var verifier idTokenVerifier = client
	if cfg.TenantID != "" {
		tenant, err := client.TenantManager.AuthForTenant(cfg.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to get tenant auth client for %s: %w", cfg.TenantID, err)
		}
		verifier = tenant
	}
	return newFirebaseTokenVerifier(verifier, cfg.AllowedEmails), nil
}

func newFirebaseTokenVerifier(v idTokenVerifier, allowed []string) *FirebaseTokenVerifier {
	normalized := make([]string, 0, len(allowed))
	for _, e := range allowed {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			normalized = append(normalized, e)
		}
	}
	return &FirebaseTokenVerifier{verifier: v, allowed: normalized}
}

// VerifyIDToken verifies idToken and checks the admin allow-list.
func (v *FirebaseTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*Claims, error) {
	token, err := v.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	claims := &Claims{
		UID:           token.UID,
		Email:         stringClaim(token.Claims, "email"),
		EmailVerified: boolClaim(token.Claims, "email_verified"),
		Name:          stringClaim(token.Claims, "name"),
		Method:        MethodFirebase,
	}

	if len(v.allowed) > 0 {
		if !claims.EmailVerified || !slices.Contains(v.allowed, strings.ToLower(claims.Email)) {
			return nil, ErrNotAdmin
		}
	}
	return claims, nil
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return s
}

func boolClaim(claims map[string]any, key string) bool {
	b, _ := claims[key].(bool)
	return b
}
