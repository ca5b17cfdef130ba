package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-grader/internal/config"
	"github.com/stemsi/exstem-grader/internal/handler"
	"github.com/stemsi/exstem-grader/internal/metrics"
	"github.com/stemsi/exstem-grader/internal/middleware"
	"github.com/stemsi/exstem-grader/internal/response"
	"github.com/stemsi/exstem-grader/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt      *handler.AttemptHandler
	AdminAttempt *handler.AdminAttemptHandler
	Monitor      *handler.MonitorHandler
	WS           *handler.WSHandler
	System       *handler.SystemHandler
}

// SaveLimiterKey keys the answer-save limiter by attempt, falling back to
// client IP when the route has no attempt.
func SaveLimiterKey(c *gin.Context) string {
	if id := c.Param("attempt_id"); id != "" {
		return id
	}
	return c.ClientIP()
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokenService *service.TokenService,
	saveLimiter *middleware.RateLimiter,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// Browsers calling the exam API from another origin. ALLOWED_ORIGINS
	// narrows the list; left empty, any origin may call.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID on every response, then request metrics and compression.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.MetricsMiddleware())
	router.Use(middleware.BrotliWithConfig(middleware.BrotliConfig{MinLength: cfg.CompressMinBytes}))

	// Health and metrics.
	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.PrometheusHandler())

	// Admission and start. Anonymous candidates carry no token.
	exams := router.Group("/api/v1/exams")
	exams.Use(middleware.OptionalCandidateJWT(tokenService))
	{
		exams.GET("/:exam/admission", handlers.Attempt.GetAdmission)
		exams.POST("/:exam/attempts", handlers.Attempt.StartAttempt)
	}

	// Everything scoped to one attempt needs that attempt's token.
	attempts := router.Group("/api/v1/attempts/:attempt_id")
	attempts.Use(
		middleware.RequireAttemptAccess(tokenService, "attempt_id"),
		middleware.NoStore(),
	)
	{
		attempts.GET("", handlers.Attempt.GetPaper)
		attempts.PUT("/answers/:question_id", saveLimiter.Middleware(), handlers.Attempt.SaveAnswer)
		attempts.POST("/submit", handlers.Attempt.SubmitAttempt)
		attempts.GET("/result", handlers.Attempt.GetResult)
	}

	// Live answer stream; browsers pass the attempt token as ?token=.
	ws := router.Group("/ws/v1")
	{
		ws.GET("/attempts/:attempt_id/stream",
			middleware.RequireAttemptAccess(tokenService, "attempt_id"),
			handlers.WS.AttemptWebSocketStream,
		)
	}

	// Grader console.
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(tokenService))
	{
		adminAPI.GET("/exams/:exam_id/attempts", handlers.AdminAttempt.ListAttempts)
		adminAPI.GET("/exams/:exam_id/progress", handlers.AdminAttempt.GetProgress)
		adminAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)

		adminAPI.GET("/attempts/:attempt_id", handlers.AdminAttempt.GetAttempt)
		adminAPI.POST("/attempts/:attempt_id/answers/:answer_id/grade", handlers.AdminAttempt.GradeAnswer)
		adminAPI.POST("/attempts/:attempt_id/finalize", handlers.AdminAttempt.FinalizeAttempt)
	}

	return router
}
