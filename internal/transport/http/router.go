package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/config"
	"github.com/mmaxou/Moemail-for-University/internal/middleware"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/service"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	mailboxes  *service.MailboxService
	messages   *service.MessageService
	quota      *service.QuotaService
	redemption *service.RedemptionService
	reaper     *service.ReaperService
	log        *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config            *config.Config
	MailboxService    *service.MailboxService
	MessageService    *service.MessageService
	QuotaService      *service.QuotaService
	RedemptionService *service.RedemptionService
	ReaperService     *service.ReaperService
	Metrics           *monitoring.Metrics
	Health            healthcheck.Handler
	Logger            *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))

	if deps.Metrics != nil {
		mm := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
		router.Use(mm.PanicMetrics())
		router.Use(mm.HTTPMetrics())
		router.Use(mm.BusinessMetrics())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-User-ID"},
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

	handler := &Handler{
		mailboxes:  deps.MailboxService,
		messages:   deps.MessageService,
		quota:      deps.QuotaService,
		redemption: deps.RedemptionService,
		reaper:     deps.ReaperService,
		log:        deps.Logger,
	}

	// 健康检查与指标
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Mailbox Routes ==========
		mailboxRoutes := v1.Group("/mailboxes")
		{
			mailboxRoutes.POST("", handler.createMailbox)
			mailboxRoutes.GET("", handler.listMailboxes)
			mailboxRoutes.GET("/:id", handler.getMailbox)
			mailboxRoutes.DELETE("/:id", handler.deleteMailbox)

			// 邮件相关端点
			mailboxRoutes.GET("/:id/messages", handler.listMessages)
			mailboxRoutes.POST("/:id/messages", handler.composeMessage)
			mailboxRoutes.PATCH("/:id/messages", handler.batchMessages)
			mailboxRoutes.GET("/:id/messages/:messageId", handler.getMessage)
			mailboxRoutes.DELETE("/:id/messages/:messageId", handler.deleteMessage)
			mailboxRoutes.POST("/:id/messages/:messageId/star", handler.starMessage)
			mailboxRoutes.DELETE("/:id/messages/:messageId/star", handler.unstarMessage)
		}

		// ========== Quota Routes ==========
		quotaRoutes := v1.Group("/quota")
		{
			quotaRoutes.GET("/daily", handler.getDailyQuota)
			quotaRoutes.POST("/daily", handler.consumeDailyQuota)
		}

		// ========== Redemption Routes ==========
		v1.POST("/redemption/redeem", handler.redeemCode)

		// ========== Internal Routes（外部调度器触发） ==========
		v1.POST("/internal/reaper/run", handler.runReaper)
	}

	return router
}

// callerID 提取上游认证网关注入的用户标识。
func callerID(c *gin.Context) *string {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		return nil
	}
	return &userID
}
