package middleware

import (
	"net/http"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

// RequireRole must run after Auth.
func RequireRole(role string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := RoleFromContext(r.Context()); got != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, role+" role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
