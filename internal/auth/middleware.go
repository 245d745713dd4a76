package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Guard authenticates admin requests.
type Guard struct {
	basic    BasicCredentials
	verifier TokenVerifier
	log      zerolog.Logger
}

// NewGuard creates a guard. verifier may be nil. With neither basic
// credentials nor a verifier the guard lets every request through.
func NewGuard(basic BasicCredentials, verifier TokenVerifier, logger zerolog.Logger) *Guard {
	g := &Guard{basic: basic, verifier: verifier, log: logger}
	if g.Open() {
		logger.Warn().Msg("no admin credentials configured; admin endpoints are unauthenticated")
	}
	return g
}

// Open reports whether the guard has no authentication configured.
func (g *Guard) Open() bool {
	return !g.basic.Configured() && g.verifier == nil
}

// Require wraps next so that it only runs for authenticated admins.
// Successful requests carry Claims in their context.
func (g *Guard) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Open() {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &Claims{UID: "anonymous", Method: MethodOpen})))
			return
		}

		header := r.Header.Get("Authorization")
		switch {
		case header == "":
			g.challenge(w, "Authorization header required")
			return

		case strings.HasPrefix(header, "Basic "):
			user, pass, ok := r.BasicAuth()
			if !ok || !g.basic.Match(user, pass) {
				g.log.Warn().Str("remote", r.RemoteAddr).Msg("admin basic auth rejected")
				g.challenge(w, "Invalid credentials")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), &Claims{UID: user, Method: MethodBasic})))

		case strings.HasPrefix(header, "Bearer "):
			token := strings.TrimPrefix(header, "Bearer ")
			if g.verifier == nil || token == "" {
				g.challenge(w, "Invalid token")
				return
			}
			claims, err := g.verifier.VerifyIDToken(r.Context(), token)
			if err != nil {
				g.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("admin token rejected")
				g.challenge(w, "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))

		default:
			g.challenge(w, "Invalid authorization header format")
		}
	})
}

func (g *Guard) challenge(w http.ResponseWriter, message string) {
	if g.basic.Configured() {
		w.Header().Set("WWW-Authenticate", `Basic realm="quakecast"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}
