package handlers

import (
	"net/http"
	"time"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{Checks: deps.HealthChecks}
	authHandler := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Limiter: deps.Limiter}
	videos := VideoHandler{
		Catalog:        deps.Catalog,
		Gateway:        deps.Gateway,
		Limiter:        deps.Limiter,
		DashboardLimit: deps.DashboardLimit,
		Upstream:       deps.Upstream,
		ProxyTimeout:   deps.ProxyTimeout,
	}
	session := func(h http.HandlerFunc) http.HandlerFunc {
		return RequireSession(deps.Authenticator, h)
	}

	mux.HandleFunc("GET /healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("POST /api/v1/auth/signup", authHandler.SignUp)
	mux.HandleFunc("POST /api/v1/auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /api/v1/auth/me", session(authHandler.Me))

	mux.HandleFunc("GET /api/v1/videos", session(videos.Dashboard))
	mux.HandleFunc("GET /api/v1/videos/{id}", session(videos.Details))
	mux.HandleFunc("GET /api/v1/videos/{id}/stream", session(videos.Stream))
	mux.HandleFunc("GET /api/v1/videos/{id}/proxy", videos.Proxy)
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users         UserStore
	Sessions      SessionManager
	Authenticator Authenticator
	Catalog       VideoCatalog
	Gateway       PlaybackGateway
	Limiter       RateLimiter
	HealthChecks  map[string]HealthCheck
	Metrics       http.Handler

	DashboardLimit int
	Upstream       *http.Client
	ProxyTimeout   time.Duration
}
