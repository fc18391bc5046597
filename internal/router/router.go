package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/painmgmt-api/internal/handler"
	"github.com/jwalitptl/painmgmt-api/internal/middleware"
	"github.com/jwalitptl/painmgmt-api/pkg/logger"
	"github.com/jwalitptl/painmgmt-api/pkg/metrics"
)

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	RequestTimeout   time.Duration
}

// Handlers are the route groups the router mounts. Health and Metrics sit
// outside authentication.
type Handlers struct {
	Health          handler.Registrar
	Metrics         handler.Registrar
	Patients        handler.Registrar
	Recommendations handler.Registrar
	Escalations     handler.Registrar
	Doses           handler.Registrar
}

type Router struct {
	engine   *gin.Engine
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	handlers Handlers
	metrics  *metrics.Metrics
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	handlers Handlers,
	log *logger.Logger,
	m *metrics.Metrics,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:   engine,
		auth:     auth,
		handlers: handlers,
		metrics:  m,
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(log),
		middleware.Recovery(log),
		middleware.ErrorHandler(log),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
	)

	if config.RateLimitEnabled {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}

	return r
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	if r.handlers.Health != nil {
		r.handlers.Health.RegisterRoutes(root)
	}
	if r.handlers.Metrics != nil {
		r.handlers.Metrics.RegisterRoutes(root)
	}

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	// Authenticate first so the limiter keys on the actor.
	api.Use(r.auth.Authenticate())
	if r.limiter != nil {
		api.Use(r.limiter.RateLimit())
	}

	for _, h := range []handler.Registrar{
		r.handlers.Patients,
		r.handlers.Recommendations,
		r.handlers.Escalations,
		r.handlers.Doses,
	} {
		if h != nil {
			h.RegisterRoutes(api)
		}
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.metrics.HTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
