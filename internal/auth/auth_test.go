package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseAuth "firebase.google.com/go/v4/auth"
	"github.com/rs/zerolog"
)

type fakeIDTokenVerifier struct {
	tokens map[string]*firebaseAuth.Token
}

func (f fakeIDTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseAuth.Token, error) {
	if tok, ok := f.tokens[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("bad token")
}

func testTokens() fakeIDTokenVerifier {
	return fakeIDTokenVerifier{tokens: map[string]*firebaseAuth.Token{
		"admin":      {UID: "u1", Claims: map[string]any{"email": "Ops@Example.com", "email_verified": true, "name": "Ops"}},
		"other":      {UID: "u2", Claims: map[string]any{"email": "someone@example.com", "email_verified": true}},
		"unverified": {UID: "u3", Claims: map[string]any{"email": "ops@example.com", "email_verified": false}},
	}}
}

func TestBasicCredentials_Match(t *testing.T) {
	creds := BasicCredentials{User: "admin", Pass: "hunter2"}

	tests := []struct {
		name  string
		creds BasicCredentials
		user  string
		pass  string
		want  bool
	}{
		{"match", creds, "admin", "hunter2", true},
		{"wrong pass", creds, "admin", "hunter3", false},
		{"wrong user", creds, "root", "hunter2", false},
		{"prefix pass", creds, "admin", "hunter", false},
		{"unconfigured never matches", BasicCredentials{}, "", "", false},
		{"half configured never matches", BasicCredentials{User: "admin"}, "admin", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.creds.Match(tt.user, tt.pass); got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.user, tt.pass, got, tt.want)
			}
		})
	}
}

func TestFirebaseTokenVerifier(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		token   string
		wantUID string
		wantErr error
	}{
		{name: "any project user", token: "other", wantUID: "u2"},
		{name: "allow-listed, case-insensitive", allowed: []string{" ops@example.com "}, token: "admin", wantUID: "u1"},
		{name: "not on allow-list", allowed: []string{"ops@example.com"}, token: "other", wantErr: ErrNotAdmin},
		{name: "unverified email", allowed: []string{"ops@example.com"}, token: "unverified", wantErr: ErrNotAdmin},
		{name: "invalid token", token: "forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newFirebaseTokenVerifier(testTokens(), tt.allowed)
			claims, err := v.VerifyIDToken(context.Background(), tt.token)

			if tt.wantUID == "" {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if claims.UID != tt.wantUID || claims.Method != MethodFirebase {
				t.Errorf("claims = %+v", claims)
			}
		})
	}
}

func TestFirebaseTokenVerifier_RequiresProject(t *testing.T) {
	if _, err := NewFirebaseTokenVerifier(context.Background(), FirebaseConfig{}); err == nil {
		t.Error("expected error without project id")
	}
}

func TestClaimHelpers(t *testing.T) {
	claims := map[string]any{"email": "a@b.c", "email_verified": true, "n": 1}
	if stringClaim(claims, "email") != "a@b.c" || stringClaim(claims, "n") != "" || stringClaim(nil, "email") != "" {
		t.Error("stringClaim mismatch")
	}
	if !boolClaim(claims, "email_verified") || boolClaim(claims, "email") || boolClaim(nil, "x") {
		t.Error("boolClaim mismatch")
	}
}

func TestGuard_Require(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := GetClaims(r.Context())
		if !ok {
			t.Error("claims missing from context")
			return
		}
		w.Header().Set("X-Method", claims.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	basic := BasicCredentials{User: "admin", Pass: "pw"}
	verifier := newFirebaseTokenVerifier(testTokens(), nil)

	tests := []struct {
		name       string
		guard      *Guard
		setup      func(*http.Request)
		wantStatus int
		wantMethod string
	}{
		{
			name:       "open guard",
			guard:      NewGuard(BasicCredentials{}, nil, zerolog.Nop()),
			setup:      func(*http.Request) {},
			wantStatus: http.StatusNoContent,
			wantMethod: MethodOpen,
		},
		{
			name:       "missing header",
			guard:      NewGuard(basic, nil, zerolog.Nop()),
			setup:      func(*http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "basic ok",
			guard:      NewGuard(basic, nil, zerolog.Nop()),
			setup:      func(r *http.Request) { r.SetBasicAuth("admin", "pw") },
			wantStatus: http.StatusNoContent,
			wantMethod: MethodBasic,
		},
		{
			name:       "basic wrong",
			guard:      NewGuard(basic, nil, zerolog.Nop()),
			setup:      func(r *http.Request) { r.SetBasicAuth("admin", "nope") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer ok",
			guard:      NewGuard(basic, verifier, zerolog.Nop()),
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer admin") },
			wantStatus: http.StatusNoContent,
			wantMethod: MethodFirebase,
		},
		{
			name:       "bearer without verifier",
			guard:      NewGuard(basic, nil, zerolog.Nop()),
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer admin") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "bearer invalid",
			guard:      NewGuard(BasicCredentials{}, verifier, zerolog.Nop()),
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer forged") },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown scheme",
			guard:      NewGuard(basic, nil, zerolog.Nop()),
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Token abc") },
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/settings", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			tt.guard.Require(okHandler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Method"); got != tt.wantMethod {
				t.Errorf("method = %q, want %q", got, tt.wantMethod)
			}
		})
	}
}

func TestGuard_BasicChallengeHeader(t *testing.T) {
	g := NewGuard(BasicCredentials{User: "a", Pass: "b"}, nil, zerolog.Nop())
	rec := httptest.NewRecorder()
	g.Require(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate challenge")
	}
}
