package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/cartbridge/api/responses"
	"github.com/angelmondragon/cartbridge/pkg/config"
	pkgerrors "github.com/angelmondragon/cartbridge/pkg/errors"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

const readinessTimeout = 5 * time.Second

// Pinger is any dependency that can be probed for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cartbridge-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady probes redis and the upstream cart service. Any failed probe
// fails readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, redisP, coreP Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		w.Header().Set("X-Cartbridge-Env", cfg.App.Env)

		checks := map[string]string{}
		healthy := true

		probe := func(name string, p Pinger) {
			if p == nil {
				checks[name] = "skipped"
				return
			}
			if err := p.Ping(ctx); err != nil {
				checks[name] = "down"
				healthy = false
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", name), "readiness probe failed", err)
				}
				return
			}
			checks[name] = "up"
		}

		probe("redis", redisP)
		probe("core_api", coreP)

		if !healthy {
			err := pkgerrors.New(pkgerrors.CodeDependency, "dependencies unavailable").WithDetails(checks)
			responses.WriteError(ctx, nil, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
