package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/VengurlekarMayuresh/CCL/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// groupPaths fixes the mount order of the versioned API groups.
var groupPaths = []string{"/orders", "/admin", "/webhooks"}

// RouteRegistrar attaches one group of endpoints to r.
type RouteRegistrar func(r chi.Router)

type routerConfig struct {
	chain   []func(http.Handler) http.Handler
	health  *HealthHandlers
	metrics http.Handler
	groups  map[string]RouteRegistrar
}

// Option adjusts NewRouter.
type Option func(*routerConfig)

// NewRouter builds the HTTP surface: probes and metrics at the root, the
// order, admin and webhook groups under /api/v1. Groups without a registrar
// answer 501.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		chain:  []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups: make(map[string]RouteRegistrar, len(groupPaths)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.chain {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)
	if cfg.metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metrics)
	}

	r.Route(apiPrefix, func(api chi.Router) {
		for _, path := range groupPaths {
			register := cfg.groups[path]
			if register == nil {
				register = unavailableGroup(path)
			}
			api.Route(path, func(group chi.Router) { register(group) })
		}
	})
	return r
}

// WithMiddlewares runs mw after the request id, real ip and timeout middleware.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.chain = append(cfg.chain, mw...)
	}
}

// WithHealthHandlers serves /healthz and /readyz from h.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithMetricsHandler exposes h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.metrics = h
	}
}

// WithOrderRoutes mounts reg at /api/v1/orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("/orders", reg) }

// WithAdminRoutes mounts reg at /api/v1/admin.
func WithAdminRoutes(reg RouteRegistrar) Option { return withGroup("/admin", reg) }

// WithWebhookRoutes mounts reg at /api/v1/webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("/webhooks", reg) }

func withGroup(path string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[path] = reg
	}
}

func unavailableGroup(path string) RouteRegistrar {
	return func(r chi.Router) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", path[1:]+" endpoints are not enabled", http.StatusNotImplemented))
		}
		r.HandleFunc("/", handler)
		r.HandleFunc("/*", handler)
	}
}
