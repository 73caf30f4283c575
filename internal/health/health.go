package health

import (
	"context"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/storage"
	"github.com/mmaxou/Moemail-for-University/internal/storage/redis"
)

// Checker 聚合存活与就绪检查。
//
// 存活检查只看进程自身（goroutine 数量），
// 就绪检查依赖外部组件：存储必查，Redis 启用时才查。
type Checker struct {
	handler healthcheck.Handler
	store   storage.Store
	redis   *redis.Client
	logger  *zap.Logger
}

// NewChecker 创建健康检查器，redisClient 可以为 nil。
func NewChecker(store storage.Store, redisClient *redis.Client, logger *zap.Logger) *Checker {
	c := &Checker{
		handler: healthcheck.NewHandler(),
		store:   store,
		redis:   redisClient,
		logger:  logger,
	}

	c.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(2000))

	c.handler.AddReadinessCheck("store", func() error {
		if err := c.store.Health(); err != nil {
			c.logger.Warn("存储健康检查失败", zap.Error(err))
			return err
		}
		return nil
	})

	if c.redis != nil {
		c.handler.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := c.redis.Ping(ctx); err != nil {
				c.logger.Warn("Redis 健康检查失败", zap.Error(err))
				return err
			}
			return nil
		})
	}

	return c
}

// Handler 返回健康检查处理器。
func (c *Checker) Handler() healthcheck.Handler {
	return c.handler
}
