package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/charlesng35/authcore/internal/app"
	"github.com/charlesng35/authcore/internal/handlers"
	"github.com/charlesng35/authcore/internal/middleware"
	"github.com/charlesng35/authcore/internal/monitoring"
	"github.com/charlesng35/authcore/internal/monitoring/checks"
	"github.com/charlesng35/authcore/internal/services"
)

// Dependencies bundles everything the router wires into handlers.
type Dependencies struct {
	DB       *gorm.DB
	Config   *app.Config
	Flow     *services.AuthFlowService
	Sessions middleware.SessionValidator

	// OIDC is nil when external login is disabled.
	OIDC *handlers.OIDCHandler
	// RateStore backs the auth rate limiter. Required when rate limiting is
	// enabled; the caller owns its lifecycle.
	RateStore middleware.RateStore
	// Health carries the probe registry. When nil only a database
	// readiness check is registered.
	Health *monitoring.HealthManager
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, errors.New("api: database handle must be provided")
	}
	if deps.Flow == nil {
		return nil, errors.New("api: auth flow service must be provided")
	}
	if deps.Sessions == nil {
		return nil, errors.New("api: session validator must be provided")
	}
	if deps.Config == nil {
		return nil, errors.New("api: config must be provided")
	}
	limit := deps.Config.Server.RateLimit
	if limit.Enabled && deps.RateStore == nil {
		return nil, errors.New("api: rate store must be provided when rate limiting is enabled")
	}

	r := gin.New()
	// ClientIP keys the rate limiter, so forwarded headers count only from
	// configured proxies.
	if err := r.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(deps.Config.Server.CORSOrigins...))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthManager()
		health.RegisterReadiness(checks.Database(deps.DB, 0))
	}
	registerHealthRoutes(r, handlers.NewHealthHandler(health))

	if prom := deps.Config.Monitoring.Prometheus; prom.Enabled {
		endpoint := strings.TrimSpace(prom.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	var limiter gin.HandlerFunc
	if limit.Enabled {
		limiter = middleware.RateLimit(deps.RateStore, limit.Requests, limit.Window)
	}

	registerAuthRoutes(r, authRouteDeps{
		AuthHandler: handlers.NewAuthHandler(deps.Flow),
		OIDCHandler: deps.OIDC,
		RequireAuth: middleware.Auth(deps.Sessions),
		RateLimit:   limiter,
	})

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
