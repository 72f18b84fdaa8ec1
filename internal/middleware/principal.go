package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dgrijalva/jwt-go"

	"github.com/sentineltrust/controlplane/internal/apperrors"
	"github.com/sentineltrust/controlplane/internal/httputil"
)

type ctxKey string

const (
	principalIDKey   ctxKey = "principal_id"
	principalRolesKey ctxKey = "principal_roles"
)

// PrincipalClaims are the JWT claims carried by a caller's bearer token.
// The caller's identity is the token's subject; roles drive RBAC checks in
// downstream handlers.
type PrincipalClaims struct {
	jwt.StandardClaims
	Roles []string `json:"roles"`
}

// PrincipalAuth verifies the caller's bearer JWT against secret (an HMAC
// signing key shared with the identity provider that issues principal
// tokens) and attaches the principal ID and roles to the request context.
// devSkipAuth, when true, trusts the plain RBAC header instead — used only
// outside production.
func PrincipalAuth(secret []byte, rbacHeader string, devSkipAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if devSkipAuth {
				principalID := r.Header.Get("X-Principal-ID")
				roles := splitRoles(r.Header.Get(rbacHeader))
				ctx := withPrincipal(r.Context(), principalID, roles)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authz := r.Header.Get("Authorization")
			tokenStr := strings.TrimPrefix(authz, "Bearer ")
			if tokenStr == "" || tokenStr == authz {
				httputil.WriteError(w, r, apperrors.Unauthenticated("missing bearer token"))
				return
			}

			claims := &PrincipalClaims{}
			token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, apperrors.Unauthenticated("unexpected signing method")
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				httputil.WriteError(w, r, apperrors.Unauthenticated("invalid bearer token"))
				return
			}

			ctx := withPrincipal(r.Context(), claims.Subject, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withPrincipal(ctx context.Context, id string, roles []string) context.Context {
	ctx = context.WithValue(ctx, principalIDKey, id)
	return context.WithValue(ctx, principalRolesKey, roles)
}

// PrincipalID extracts the authenticated caller's ID from ctx.
func PrincipalID(ctx context.Context) string {
	if id, ok := ctx.Value(principalIDKey).(string); ok {
		return id
	}
	return ""
}

// PrincipalRoles extracts the authenticated caller's roles from ctx.
func PrincipalRoles(ctx context.Context) []string {
	if roles, ok := ctx.Value(principalRolesKey).([]string); ok {
		return roles
	}
	return nil
}

// HasRole reports whether ctx's principal carries role.
func HasRole(ctx context.Context, role string) bool {
	for _, r := range PrincipalRoles(ctx) {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// RequireRole rejects requests whose principal lacks role with 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasRole(r.Context(), role) {
				httputil.WriteError(w, r, apperrors.Forbidden("role "+role+" required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
