package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	pkgauth "github.com/angelmondragon/packfinderz-payouts/pkg/auth"
	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

// Auth verifies the bearer token and puts the caller on the request context.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), claims.UserID.String(), claims.Role)
			if logg != nil {
				ctx = logg.WithActorID(ctx, claims.UserID.String())
				ctx = logg.WithField(ctx, "actor_role", claims.Role)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(header string) string {
	raw := strings.TrimSpace(header)
	if len(raw) > 7 && strings.EqualFold(raw[:7], "bearer ") {
		return strings.TrimSpace(raw[7:])
	}
	return raw
}
