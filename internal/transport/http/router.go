package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dexmail/backend/internal/auth"
	jwtpkg "dexmail/backend/internal/auth/jwt"
	"dexmail/backend/internal/claim"
	"dexmail/backend/internal/config"
	"dexmail/backend/internal/health"
	"dexmail/backend/internal/middleware"
	"dexmail/backend/internal/monitoring"
	"dexmail/backend/internal/service"
	"dexmail/backend/internal/storage"
	"dexmail/backend/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	AuthService     *auth.Service
	DeliveryService *service.DeliveryService
	DraftService    *service.DraftService
	SessionManager  *service.SessionManager
	ClaimService    *claim.Service
	JWTManager      *jwtpkg.Manager
	WebSocketHub    *websocket.Hub
	Store           storage.Store
	HealthChecker   *health.HealthChecker
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	// 使用自定义中间件替代默认中间件
	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.MailBodyLimit))

	// HTTP 指标采集
	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.HTTPMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
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

	// 创建处理器
	authHandler := NewAuthHandler(deps.AuthService, deps.SessionManager, deps.Logger)
	mailHandler := NewMailHandler(deps.DeliveryService, deps.SessionManager, deps.Logger)
	statusHandler := NewStatusHandler(deps.Store, deps.Logger)
	draftHandler := NewDraftHandler(deps.DraftService, deps.Logger)
	cidHandler := NewCIDHandler(deps.Store, deps.Logger)
	bridgeHandler := NewBridgeHandler(deps.DeliveryService, deps.ClaimService, deps.Logger)

	// 创建中间件
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)

	// 健康检查与指标
	if deps.HealthChecker != nil {
		router.GET("/health", gin.WrapH(deps.HealthChecker.Handler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/challenge", authHandler.Challenge)
			authRoutes.POST("/login", authHandler.Login)
			authRoutes.POST("/refresh", authHandler.Refresh)
			authRoutes.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
			authRoutes.POST("/logout", jwtAuth.RequireAuth(), authHandler.Logout)
		}

		// ========== Mail Routes ==========
		mailRoutes := v1.Group("/mail")
		mailRoutes.Use(jwtAuth.RequireAuth())
		{
			mailRoutes.POST("/send", mailHandler.Send)
			mailRoutes.GET("/mailbox", mailHandler.Mailbox)
			mailRoutes.GET("/:id/thread", mailHandler.Thread)

			// 状态变更端点
			mailRoutes.POST("/:id/read", mailHandler.MarkRead)
			mailRoutes.POST("/:id/spam", mailHandler.MarkSpam)
			mailRoutes.POST("/:id/archive", mailHandler.Archive)
			mailRoutes.POST("/:id/trash", mailHandler.Trash)
			mailRoutes.POST("/:id/restore", mailHandler.Restore)
			mailRoutes.POST("/:id/labels", mailHandler.SetLabels)
		}

		// ========== Status / Draft Routes ==========
		emailRoutes := v1.Group("/email")
		emailRoutes.Use(jwtAuth.RequireAuth())
		{
			emailRoutes.GET("/status", statusHandler.GetStatusMap)
			emailRoutes.POST("/status", statusHandler.UpsertStatus)

			emailRoutes.GET("/drafts", draftHandler.List)
			emailRoutes.POST("/drafts", draftHandler.Save)
			emailRoutes.DELETE("/drafts/:id", draftHandler.Delete)
		}

		// ========== CID Mapping Routes ==========
		// 对端后端实例直接调用，不带用户态 JWT。登记经过
		// 格式校验且幂等，重复写不覆盖已有映射。
		cidRoutes := v1.Group("/cid")
		{
			cidRoutes.POST("/store", cidHandler.Store)
			cidRoutes.GET("/retrieve", cidHandler.Retrieve)
		}

		// ========== Bridge Routes ==========
		// 入站 webhook 由邮件服务商回调，不走 JWT
		v1.POST("/bridge/inbound", bridgeHandler.Inbound)
		v1.GET("/claim/:code", bridgeHandler.Claim)

		// ========== WebSocket Routes ==========
		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
