// Package auth carries the caller's identity explicitly through the system.
// The workflow engine never reads ambient session state: every service call
// receives an Identity and decides ownership/role questions from it alone.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Role names used across the system.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleEmployee, RoleReviewer, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller: who they are and what they may do.
type Identity struct {
	UserID string
	Role   Role
}

// CanReview reports whether the caller may review badge applications.
func (i Identity) CanReview() bool {
	return i.Role == RoleReviewer || i.Role == RoleAdmin
}

// IsAdmin reports whether the caller may approve or reject promotions.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

type ctxKey string

const ctxKeyIdentity ctxKey = "meritflow.identity"

// FromContext returns the Identity stored by the middleware, or false.
func FromContext(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(ctxKeyIdentity).(Identity)
	return ident, ok
}

// WithIdentity places an Identity into the context. Exposed for tests and
// for callers embedding the engine without the HTTP layer.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, ident)
}

// MiddlewareConfig configures the bearer-token middleware.
type MiddlewareConfig struct {
	// Secret is the HS256 signing secret for bearer tokens carrying
	// `sub` (user id) and `role` claims.
	Secret string
	// AllowDebugToken accepts DebugToken verbatim as an admin identity.
	// Local runs only; main refuses to enable it in production.
	AllowDebugToken bool
	DebugToken      string
}

// NewMiddleware returns an HTTP middleware that authenticates the request
// and stores the resulting Identity in the context. Requests without a
// valid token receive 401.
func NewMiddleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			if cfg.AllowDebugToken && cfg.DebugToken != "" && token == cfg.DebugToken {
				ctx := WithIdentity(r.Context(), Identity{UserID: "debug", Role: RoleAdmin})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			ident, err := ParseToken(token, cfg.Secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
		})
	}
}

// ParseToken validates an HS256 token and extracts the Identity from its
// `sub` and `role` claims.
func ParseToken(tokenStr, secret string) (Identity, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("token invalid")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("token missing sub claim")
	}
	roleStr, _ := claims["role"].(string)
	role := Role(roleStr)
	if !role.Valid() {
		return Identity{}, fmt.Errorf("token missing or unknown role claim")
	}
	return Identity{UserID: sub, Role: role}, nil
}

func bearerToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
