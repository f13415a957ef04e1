package router

import (
	"github.com/gin-gonic/gin"

	"github.com/corelinkhq/platform-core/internal/handler"
	devicehandler "github.com/corelinkhq/platform-core/internal/handler/device"
	"github.com/corelinkhq/platform-core/internal/middleware"
	"github.com/corelinkhq/platform-core/pkg/scope"
)

type Config struct {
	RateLimit middleware.RateLimiterConfig
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	guard    *scope.Guard
	policies *scope.Registry
	deviceH  *devicehandler.Handler
	healthH  *handler.HealthHandler
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	guard *scope.Guard,
	policies *scope.Registry,
	deviceH *devicehandler.Handler,
	healthH *handler.HealthHandler,
	config Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		guard:    guard,
		policies: policies,
		deviceH:  deviceH,
		healthH:  healthH,
	}

	rateLimiter := middleware.NewRateLimiter(config.RateLimit)

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		rateLimiter.RateLimit(),
	)

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)

	protected := api.Group("")
	protected.Use(
		r.auth.Authenticate(),
		r.guard.Enforce(),
	)
	r.deviceH.RegisterRoutes(protected)
	r.registerPolicies()
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.healthH.LivenessCheck)
		health.GET("/ready", r.healthH.ReadinessCheck)
		health.GET("/metrics", r.healthH.MetricsHandler)
	}
}

// registerPolicies is the startup-time policy registry population. Keys
// are the exact route templates gin reports at request time, so lookup
// is by exact key, no pattern matching at runtime.
func (r *Router) registerPolicies() {
	r.policies.Register("POST", "/api/v1/devices",
		scope.Require(scope.TypeAll,
			scope.WithErrorMessage("only administrators may register devices")))

	// Device reads fall back to query-level tenant filtering when the
	// request names no tenant; the guard only catches explicit
	// cross-tenant requests early.
	r.policies.Register("GET", "/api/v1/devices/:id",
		scope.Require(scope.TypeTenant))
	r.policies.Register("POST", "/api/v1/devices/:id/apps",
		scope.Require(scope.TypeTenant))

	r.policies.Register("GET", "/api/v1/tenants/:tenantId/devices",
		scope.Require(scope.TypeTenant,
			scope.WithTenantField("tenantId")))

	r.policies.Register("GET", "/api/v1/users/:id/devices",
		scope.Require(scope.TypeSelf))
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
