package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/packfinderz-payouts/api/responses"
	"github.com/angelmondragon/packfinderz-payouts/pkg/config"
	pkgerrors "github.com/angelmondragon/packfinderz-payouts/pkg/errors"
	"github.com/angelmondragon/packfinderz-payouts/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is any dependency readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PackFinderz-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the database and redis. Either failing answers 503.
func HealthReady(cfg *config.Config, logg *logger.Logger, db Pinger, redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-PackFinderz-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := map[string]Pinger{"database": db, "redis": redis}
		for name, p := range checks {
			if p == nil {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, name+" not configured"))
				return
			}
			if err := p.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unreachable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
