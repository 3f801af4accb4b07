package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Learner *handler.LearnerHandler
	Proctor *handler.ProctorHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	System  *handler.SystemHandler
}

// Limits holds the request limiters. A nil entry disables that limit.
type Limits struct {
	// Start throttles attempt creation per client IP.
	Start gin.HandlerFunc
	// Events throttles security event reports per session.
	Events gin.HandlerFunc
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limits Limits,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	router.GET("/healthz", handlers.System.Health)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.GET("/learner/me", middleware.RequireLearnerJWT(authService), handlers.Auth.Me)
		auth.GET("/proctor/me", middleware.RequireProctorJWT(authService), handlers.Auth.Me)
	}

	// ─── 2. Learner Group (JWT) ────────────────────────────────────────
	learnerAPI := router.Group("/api/v1/learner")
	learnerAPI.Use(
		middleware.RequireLearnerJWT(authService),
		middleware.NoStore(),
	)
	{
		learnerAPI.POST("/exams/:exam_id/sessions", orPass(limits.Start), handlers.Learner.StartSession)
		learnerAPI.GET("/sessions/:session_id", handlers.Learner.GetStatus)
		learnerAPI.POST("/sessions/:session_id/events", orPass(limits.Events), handlers.Learner.ReportEvent)
		learnerAPI.PUT("/sessions/:session_id/drafts", handlers.Learner.SaveDraft)
		learnerAPI.POST("/sessions/:session_id/submit", handlers.Learner.Submit)
	}

	// ─── 3. WebSocket Group (Learner WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireLearnerWSAuth(authService))
	{
		ws.GET("/learner/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 4. Proctor Group (JWT + RBAC) ─────────────────────────────────
	proctorAPI := router.Group("/api/v1/proctor")
	proctorAPI.Use(middleware.RequireProctorJWT(authService))
	{
		proctorAPI.GET("/sessions/:session_id",
			middleware.RequirePermission(service.PermSessionsRead),
			middleware.NoStore(),
			handlers.Proctor.GetSession,
		)
		proctorAPI.POST("/sessions/:session_id/cancel",
			middleware.RequirePermission(service.PermSessionsCancel),
			handlers.Proctor.CancelSession,
		)
		proctorAPI.POST("/sessions/:session_id/review",
			middleware.RequirePermission(service.PermSessionsReview),
			handlers.Proctor.ResolveReview,
		)

		// Large read-only payloads, compressed.
		proctorAPI.GET("/sessions/:session_id/events",
			middleware.RequireAnyPermission(service.PermSessionsRead, service.PermSessionsReview),
			middleware.NoStore(),
			middleware.Brotli(),
			handlers.Proctor.AuditTrail,
		)
		proctorAPI.GET("/sessions/:session_id/replay",
			middleware.RequirePermission(service.PermSessionsReview),
			middleware.CacheControl(60),
			middleware.Brotli(),
			handlers.Proctor.Replay,
		)

		// Exam catalog
		proctorAPI.PUT("/exams/:exam_id",
			middleware.RequirePermission(service.PermExamsPublish),
			handlers.Proctor.PublishExam,
		)
		proctorAPI.GET("/exams/:exam_id",
			middleware.RequireAnyPermission(service.PermExamsPublish, service.PermSessionsReview),
			middleware.Brotli(),
			handlers.Proctor.GetExam,
		)

		// Live monitoring (EventSource passes ?token=...)
		proctorAPI.GET("/exams/:exam_id/sessions",
			middleware.RequirePermission(service.PermSessionsRead),
			middleware.NoStore(),
			handlers.Proctor.ActiveSessions,
		)
		proctorAPI.GET("/exams/:exam_id/monitor",
			middleware.RequirePermission(service.PermSessionsRead),
			handlers.Monitor.MonitorExamSSE,
		)
		proctorAPI.GET("/system/metrics",
			middleware.RequirePermission(service.PermSessionsRead),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}

func orPass(h gin.HandlerFunc) gin.HandlerFunc {
	if h != nil {
		return h
	}
	return func(c *gin.Context) { c.Next() }
}
