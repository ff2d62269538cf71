// Package adminhttp exposes a local operator HTTP surface over the
// running bridge: liveness, per-pool availability, and live game
// descriptors. It is not part of the server protocol; it is read-only
// tooling for the operator running the bot.
package adminhttp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// PoolStatus is one role pool's reported availability.
type PoolStatus struct {
	Role      string `json:"role"`
	Available int    `json:"available"`
}

// GameStatus is one live game's reported state.
type GameStatus struct {
	GameID string `json:"game_id"`
	Speed  string `json:"speed"`
	Role   string `json:"role"`
}

// StatusSource is the subset of the running bridge adminhttp needs to
// render its views. The Session Controller implements this.
type StatusSource interface {
	Pools(ctx context.Context) []PoolStatus
	Games(ctx context.Context) []GameStatus
}

// NewRouter returns a configured chi.Router for the admin HTTP surface.
//
// Route layout:
//
//	GET /healthz  – liveness probe (no authentication required)
//	GET /pools    – per-role pool availability (Bearer JWT required if pubKey is set)
//	GET /games    – live game descriptors (Bearer JWT required if pubKey is set)
//
// pubKey, when non-nil, requires a valid RS256 Bearer token on /pools and
// /games.
func NewRouter(src StatusSource, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}
		r.Get("/pools", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, src.Pools(req.Context()))
		})
		r.Get("/games", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, src.Games(req.Context()))
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// JWTMiddleware returns an HTTP middleware that validates RS256 Bearer
// tokens against pubKey, adapted from the teacher's dashboard REST layer.
func JWTMiddleware(pubKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(authHeader) <= len(prefix) || authHeader[:len(prefix)] != prefix {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}
			tokenStr := authHeader[len(prefix):]

			claims := &jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return pubKey, nil
			}, jwt.WithValidMethods([]string{"RS256"}))
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
