package handler

import (
	"net/http"

	"pos-settlement/internal/adapter/http/middleware"
	redisStore "pos-settlement/internal/adapter/storage/redis"
	"pos-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	CheckoutSvc    ports.CheckoutService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService      // nil = audit logging disabled
	Metrics        middleware.HTTPRecorder // nil = no request metrics
	MetricsHandler http.Handler            // nil = /metrics not exposed
	MaxBodyBytes   int64
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(middleware.MaxBodySize(maxBody))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	checkout := r.Group("/api/v1/checkout", jwtAuth)
	if deps.AuditSvc != nil {
		checkout.Use(middleware.AuditLog(deps.AuditSvc))
	}

	h := NewCheckoutHandler(deps.CheckoutSvc)
	checkout.POST("/sessions", rl("session_open"), h.OpenSession)

	session := checkout.Group("/sessions/:id")
	{
		session.GET("", rl("session_read"), h.GetSession)
		session.DELETE("", rl("session_edit"), h.CloseSession)
		session.POST("/slots/:method/select", rl("session_edit"), h.Select)
		session.PUT("/slots/:method/amount", rl("session_edit"), h.SetAmount)
		session.PUT("/mobile", rl("session_edit"), h.SetMobile)
		session.PUT("/conversion", rl("session_edit"), h.SetConversion)
		session.POST("/rate/refresh", rl("rate_refresh"), h.RefreshRate)
		session.POST("/confirm", rl("confirm"), h.Confirm)
	}

	return r
}
