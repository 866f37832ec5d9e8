package handler

import (
	"net/http"

	"github.com/GoPolymarket/autopilot/internal/middleware"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

type RouterOptions struct {
	AdminKey    string
	ReadOnly    bool
	Limiter     *rate.Limiter // nil disables rate limiting
	Idempotency middleware.IdempotencyStore
	MetricsPath string // empty disables /metrics
}

// NewRouter assembles the admin API.
func NewRouter(opts RouterOptions, catalog *service.CatalogService, scheduler *service.Scheduler, logs ExecutionLister) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		report := scheduler.HealthCheck()
		status := http.StatusOK
		if report.Status != service.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": report.Status, "service": "autopilot", "scheduler": report})
	})
	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AdminMiddleware(opts.AdminKey))
	v1.Use(middleware.RateLimitMiddleware(opts.Limiter))
	v1.Use(middleware.ReadOnlyMiddleware(opts.ReadOnly))
	v1.Use(middleware.IdempotencyMiddleware(opts.Idempotency))

	NewPlanHandler(catalog).Register(v1)
	NewRebalancerHandler(catalog).Register(v1)
	NewPermissionHandler(catalog).Register(v1)
	NewExecutionHandler(logs).Register(v1)
	NewSchedulerHandler(scheduler).Register(v1)
	return r
}
