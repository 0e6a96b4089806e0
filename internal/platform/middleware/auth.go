// Package middleware carries the HTTP boundary's cross-cutting concerns:
// bearer-token identity and request metadata propagation.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"chronicle/pkg/domain"
	dErrors "chronicle/pkg/domainerrors"
	"chronicle/pkg/platform/httputil"
)

// Identity is the authenticated caller extracted from a bearer token.
// Tenant and actor are the only identity inputs the engine accepts; they
// always come from verified claims, never from request parameters.
type Identity struct {
	Tenant    domain.TenantID
	Actor     domain.ActorID
	ActorName string
	Admin     bool
}

type contextKeyIdentity struct{}

// IdentityFrom retrieves the authenticated identity from the context.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity{}).(Identity)
	return id, ok
}

// WithIdentity injects an identity into a context. Exposed for handler
// tests that skip the middleware chain.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, id)
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	signingKey []byte
}

// NewAuthenticator constructs an authenticator for the shared signing key.
func NewAuthenticator(signingKey string) *Authenticator {
	return &Authenticator{signingKey: []byte(signingKey)}
}

// ValidateToken parses and verifies a token and extracts the identity
// claims: tenant_id, sub (actor id), name, and roles.
func (a *Authenticator) ValidateToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("unexpected claims type")
	}

	tenantClaim, _ := claims["tenant_id"].(string)
	tenant, err := domain.ParseTenantID(tenantClaim)
	if err != nil {
		return Identity{}, fmt.Errorf("tenant_id claim: %w", err)
	}

	identity := Identity{Tenant: tenant}
	if sub, _ := claims["sub"].(string); sub != "" {
		actor, err := domain.ParseActorID(sub)
		if err != nil {
			return Identity{}, fmt.Errorf("sub claim: %w", err)
		}
		identity.Actor = actor
	}
	identity.ActorName, _ = claims["name"].(string)

	if roles, ok := claims["roles"].([]any); ok {
		for _, role := range roles {
			if role == "admin" {
				identity.Admin = true
			}
		}
	}
	return identity, nil
}

// RequireAuth rejects requests without a valid bearer token and stores the
// identity in the request context.
func RequireAuth(auth *Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				logger.WarnContext(ctx, "unauthorized access, missing bearer token")
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			identity, err := auth.ValidateToken(raw)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access, invalid token", "error", err)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid or expired token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

// RequireAdmin rejects authenticated callers without the admin role. Must
// run after RequireAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			identity, ok := IdentityFrom(ctx)
			if !ok || !identity.Admin {
				logger.WarnContext(ctx, "admin route denied",
					"actor_id", identity.Actor.String(),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
