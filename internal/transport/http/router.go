package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"timecapsule/backend/internal/auth"
	"timecapsule/backend/internal/config"
	"timecapsule/backend/internal/health"
	"timecapsule/backend/internal/middleware"
	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/service"
	"timecapsule/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	AuthService     *auth.Service
	MessageService  *service.MessageService
	DeliveryService *service.DeliveryService
	AdminService    *service.AdminService
	Jobs            JobRunner
	WebSocketHub    *websocket.Hub // 可选
	Health          *health.HealthChecker
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// 每分钟每个 IP 允许的认证请求数
const (
	authRequestsPerMinute = 20
	authBurst             = 10
)

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, log)
	router.Use(monitor.PanicRecovery())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	if deps.Metrics != nil {
		router.Use(monitor.HTTPMetrics())
	}

	// 上传接口放宽请求体限制，其余接口使用默认限制
	router.Use(middleware.DynamicBodySizeLimit(map[string]int64{
		"/v1/messages/with-attachment": middleware.UploadBodyLimit(deps.Config.Storage.MaxUploadSize),
	}, middleware.DefaultBodyLimit))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	authHandler := NewAuthHandler(deps.AuthService, log)
	messageHandler := NewMessageHandler(deps.MessageService, deps.DeliveryService, log)
	adminHandler := NewAdminHandler(deps.AdminService, deps.Jobs, log)

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, log)
	authLimit := middleware.NewRateLimiter("auth", authRequestsPerMinute, authBurst, deps.Metrics)

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// 监控与健康检查
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}
	router.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		checks, healthy := deps.Health.CheckHealth()
		status, code := "ok", http.StatusOK
		if !healthy {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "checks": checks})
	})
	if deps.Health != nil {
		router.GET("/live", gin.WrapH(deps.Health.Handler()))
		router.GET("/ready", gin.WrapH(deps.Health.Handler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authLimit.Middleware(), authHandler.Register)
			authRoutes.POST("/login", authLimit.Middleware(), authHandler.Login)
			authRoutes.POST("/token", authLimit.Middleware(), authHandler.Token)
			authRoutes.GET("/verify", authHandler.VerifyEmail)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
		}

		// ========== Message Routes ==========
		messageRoutes := v1.Group("/messages")
		messageRoutes.Use(jwtAuth.RequireAuth())
		{
			messageRoutes.POST("", messageHandler.createMessage)
			messageRoutes.POST("/with-attachment", messageHandler.createMessageWithAttachment)
			messageRoutes.GET("", messageHandler.listMessages)
			messageRoutes.GET("/:id", messageHandler.getMessage)
			messageRoutes.DELETE("/:id", messageHandler.deleteMessage)

			// 手动触发投递（需要管理员权限）
			messageRoutes.POST("/send-scheduled", middleware.RequireAdmin(), messageHandler.sendScheduled)
		}

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin")
		adminRoutes.Use(jwtAuth.RequireAuth(), middleware.RequireAdmin()) // 所有管理路由都需要管理员权限
		{
			adminRoutes.GET("/users", adminHandler.ListUsers)
			adminRoutes.GET("/users/:id", adminHandler.GetUser)
			adminRoutes.PATCH("/users/:id", adminHandler.UpdateUser)

			if deps.Jobs != nil {
				adminRoutes.GET("/jobs", adminHandler.ListJobs)
				adminRoutes.POST("/jobs/:name/trigger", middleware.RequireSuper(), adminHandler.TriggerJob)
			}
		}
	}

	return router
}
