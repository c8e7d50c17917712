package api

import (
	"context"
	"net/http"
	"strings"

	"edu-tracker/internal/model"
)

type ctxKey int

const roleKey ctxKey = iota

// TokenParser validates a bearer token and returns its role.
type TokenParser interface {
	ParseToken(raw string) (model.Role, error)
}

// AuthMiddleware rejects requests without a valid bearer token and puts the
// caller's role in the request context.
func AuthMiddleware(tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeFail(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			role, err := tokens.ParseToken(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
			if err != nil {
				writeFail(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), roleKey, role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ParentOnly must run after AuthMiddleware.
func ParentOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RoleFromContext(r.Context()) != model.RoleParent {
			writeFail(w, http.StatusForbidden, "Access denied")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleKey).(model.Role)
	return role
}
