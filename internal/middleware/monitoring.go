package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics, logger *zap.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		logger:  logger,
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		statusCode := strconv.Itoa(c.Writer.Status())

		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			statusCode,
			duration,
		)

		if c.Writer.Status() >= 500 {
			mm.metrics.RecordError("http_error", "http")
		}
	}
}

// BusinessMetrics 业务指标中间件
// 按路由归类记录邮箱与邮件的增删计数，只统计成功响应。
func (mm *MonitoringMiddleware) BusinessMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() >= 400 {
			return
		}

		switch c.FullPath() {
		case "/v1/mailboxes":
			if c.Request.Method == "POST" {
				mm.metrics.MailboxesCreated.Inc()
			}
		case "/v1/mailboxes/:id":
			if c.Request.Method == "DELETE" {
				mm.metrics.MailboxesDeleted.Inc()
			}
		case "/v1/mailboxes/:id/messages":
			if c.Request.Method == "POST" {
				mm.metrics.MessagesComposed.Inc()
			}
		case "/v1/mailboxes/:id/messages/:messageId":
			if c.Request.Method == "DELETE" {
				mm.metrics.MessagesDeleted.Inc()
			}
		}
	}
}

// PanicMetrics Panic 计数中间件，放在恢复中间件之前生效。
func (mm *MonitoringMiddleware) PanicMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()
				panic(err)
			}
		}()

		c.Next()
	}
}
