package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cartbridge/api/controllers"
	"github.com/angelmondragon/cartbridge/api/middleware"
	"github.com/angelmondragon/cartbridge/internal/identity"
	"github.com/angelmondragon/cartbridge/pkg/config"
	"github.com/angelmondragon/cartbridge/pkg/logger"
)

// RateLimiter matches the redis fixed-window helper.
type RateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Deps carries everything the router wires into handlers.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Engines  controllers.CartEngines
	Guests   *identity.Guests
	RedisP   controllers.Pinger
	CoreP    controllers.Pinger
	Limiter  RateLimiter
	Registry *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.CORS),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.RedisP, deps.CoreP))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.Identity(cfg.JWT, deps.Guests, logg))

		r.Get("/", controllers.CartFetch(deps.Engines, logg))
		r.Post("/refresh", controllers.CartRefresh(deps.Engines, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.MutationRateLimit(deps.Limiter, cfg.RateLimit.MutationLimit, cfg.RateLimit.MutationWindow, logg))
			r.Post("/items", controllers.CartAddItem(deps.Engines, logg))
			r.Patch("/items/{itemID}", controllers.CartUpdateItem(deps.Engines, logg))
			r.Delete("/items/{itemID}", controllers.CartRemoveItem(deps.Engines, logg))
		})
	})

	return r
}
