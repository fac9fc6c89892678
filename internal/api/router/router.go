package router

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/jobqueue/internal/api/handler"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Options tunes the middleware stack.
type Options struct {
	RateLimit         bool
	RequestsPerSecond float64
	Burst             int
}

// SetupRouter configures and returns the Gin router with all routes.
// Background middleware work stops when ctx is done.
func SetupRouter(ctx context.Context, deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	if opts.RateLimit {
		limiter := newIPRateLimiter(ctx, rate.Limit(opts.RequestsPerSecond), opts.Burst, defaultEvictTTL)
		r.Use(RateLimitMiddleware(limiter))
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		if deps.HealthCheck != nil {
			if err := deps.HealthCheck(c.Request.Context()); err != nil {
				deps.Logger.Warn("Health check failed", slog.Any("error", err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "job-api-service",
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "job-api-service",
		})
	})

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	v1.Use(TenantMiddleware())
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the tenant's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/retry - Requeue a failed job
			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
		}
	}

	return r
}
