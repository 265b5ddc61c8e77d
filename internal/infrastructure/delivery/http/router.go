// Package httprouter serves the ops endpoints: readiness, stats and metrics.
// Acquisitions are driven by the chat transport, not over HTTP.
package httprouter

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"tunegrab/internal/consts"
	"tunegrab/internal/infrastructure/delivery/http/middleware"
	"tunegrab/internal/infrastructure/delivery/http/response"
	"tunegrab/internal/observability"
	"tunegrab/internal/proxymgr"
)

const defaultHandlerTimeout = 5 * time.Second

// InFlighter reports running acquisitions.
type InFlighter interface {
	InFlight() int
}

// ReadyFunc reports whether the process can serve acquisitions.
type ReadyFunc func(ctx context.Context) error

// Deps are the collaborators the ops endpoints read from. Proxies may be nil.
type Deps struct {
	Service        InFlighter
	Proxies        *proxymgr.Manager
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Ready          ReadyFunc
	HandlerTimeout time.Duration
}

// Stats is the body of GET /v1/stats.
type Stats struct {
	InFlight         int                   `json:"inFlight"`
	ProxiesAvailable int                   `json:"proxiesAvailable"`
	Proxies          []proxymgr.ProxyStats `json:"proxies,omitempty"`
}

// Router is a ServeMux with global and per-route middleware chains.
type Router struct {
	*http.ServeMux
	log         *slog.Logger
	globalChain []func(http.Handler) http.Handler
	routeChain  []func(http.Handler) http.Handler
	isSubRouter bool
	deps        Deps
}

// New builds the ops router.
func New(log *slog.Logger, deps Deps) *Router {
	if deps.HandlerTimeout <= 0 {
		deps.HandlerTimeout = defaultHandlerTimeout
	}

	if deps.MetricsHandler == nil {
		deps.MetricsHandler = observability.Handler()
	}

	r := &Router{
		ServeMux: http.NewServeMux(),
		log:      log.With(slog.String("package", "httprouter")),
		deps:     deps,
	}

	r.SetGlobalMiddlewares()
	r.SetRoutes()

	return r
}

// Use appends middleware to the global chain, or to the route chain inside Group.
func (r *Router) Use(middleware ...func(http.Handler) http.Handler) {
	if r.isSubRouter {
		r.routeChain = append(r.routeChain, middleware...)
	} else {
		r.globalChain = append(r.globalChain, middleware...)
	}
}

// Group registers routes that share extra middleware.
func (r *Router) Group(fn func(r *Router)) {
	subRouter := &Router{
		isSubRouter: true,
		routeChain:  slices.Clone(r.routeChain),
		ServeMux:    r.ServeMux,
		log:         r.log,
		deps:        r.deps,
	}

	fn(subRouter)
}

// HandleFunc registers h wrapped in the route chain.
func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.Handle(pattern, h)
}

// Handle registers h wrapped in the route chain.
func (r *Router) Handle(pattern string, h http.Handler) {
	for _, middleware := range slices.Backward(r.routeChain) {
		h = middleware(h)
	}

	r.ServeMux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var h http.Handler = r.ServeMux

	for _, middleware := range slices.Backward(r.globalChain) {
		h = middleware(h)
	}

	h.ServeHTTP(w, req)
}

// SetGlobalMiddlewares installs the middleware every request passes through.
func (r *Router) SetGlobalMiddlewares() {
	r.Use(
		middleware.Recoverer,
		middleware.RequestID,
		middleware.Logger,
	)
}

// SetRoutes registers all endpoints.
func (r *Router) SetRoutes() {
	r.Handle("GET /metrics", r.deps.MetricsHandler)

	r.Group(func(g *Router) {
		g.Use(middleware.Metrics(g.deps.Metrics))

		g.HandleFunc("GET /v1/readyz", g.Ready)
		g.HandleFunc("GET /v1/stats", g.Stats)
	})
}

// Ready answers 200 once every required binary is resolved.
func (r *Router) Ready(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), r.deps.HandlerTimeout)
	defer cancel()

	if r.deps.Ready != nil {
		if err := r.deps.Ready(ctx); err != nil {
			r.log.WarnContext(ctx, "not ready", slog.Any("error", err))
			response.ServiceUnavailable(w, consts.RespNotReady, err)

			return
		}
	}

	response.OK(w, consts.RespReady, nil)
}

// Stats reports in-flight acquisitions and proxy pool health.
func (r *Router) Stats(w http.ResponseWriter, _ *http.Request) {
	var stats Stats

	if r.deps.Service != nil {
		stats.InFlight = r.deps.Service.InFlight()
	}

	stats.ProxiesAvailable = r.deps.Proxies.AvailableCount()
	stats.Proxies = r.deps.Proxies.GetStats()

	response.OK(w, consts.RespStats, stats)
}
