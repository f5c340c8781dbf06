// internal/api/middleware.go
package api

import (
	"context"
	"net/http"
	"strings"

	"fps-workflow/internal/common/auth"
	stderrors "fps-workflow/internal/common/errors"
	"fps-workflow/internal/common/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the authenticated caller stored by the
// authentication middleware, or nil outside an authenticated request.
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// Authenticate verifies the bearer token on every request and stores the
// caller identity in the request context.
func Authenticate(checker auth.IdentityChecker, log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, log, stderrors.NewUnauthorizedError("missing bearer token"))
				return
			}

			identity, err := checker.Check(r.Context(), strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, log, err)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin gates admin-only operations behind the caller's role.
func RequireAdmin(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := IdentityFrom(r.Context())
			if identity == nil || !identity.IsAdmin() {
				writeError(w, log, stderrors.NewForbiddenError("admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSelfOrAdmin allows a user to act on their own resources only;
// admins may act on anyone's.
func requireSelfOrAdmin(w http.ResponseWriter, r *http.Request, log logger.Logger, userID string) bool {
	identity := IdentityFrom(r.Context())
	if identity == nil {
		writeError(w, log, stderrors.NewUnauthorizedError("missing identity"))
		return false
	}
	if identity.UserID != userID && !identity.IsAdmin() {
		writeError(w, log, stderrors.NewForbiddenError("operation limited to the resource owner"))
		return false
	}
	return true
}
