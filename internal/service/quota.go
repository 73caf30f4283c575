package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
	"github.com/mmaxou/Moemail-for-University/internal/monitoring"
	"github.com/mmaxou/Moemail-for-University/internal/storage"
)

// quotaCacheTTL 配额快照的缓存时长，展示值最多落后这么久。
const quotaCacheTTL = 5 * time.Second

// QuotaCache 配额快照缓存接口，Redis 可用时注入。
type QuotaCache interface {
	CacheDailyCounter(ctx context.Context, counter *domain.DailyCounter, ttl time.Duration) error
	GetCachedDailyCounter(ctx context.Context, date string) (*domain.DailyCounter, error)
	InvalidateDailyCounter(ctx context.Context, date string) error
}

// QuotaService 封装每日发信配额逻辑。
//
// 自增的原子性完全由存储层的条件更新保证，本层只负责
// 日期键的推导和展示缓存，任何路径都不做读取再写回。
type QuotaService struct {
	repo    storage.QuotaRepository
	cache   QuotaCache
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewQuotaService 创建配额业务服务。
func NewQuotaService(repo storage.QuotaRepository, log *zap.Logger) *QuotaService {
	return &QuotaService{repo: repo, log: log}
}

// SetCache 注入配额快照缓存。
func (s *QuotaService) SetCache(cache QuotaCache) {
	s.cache = cache
}

// SetMetrics 注入配额指标。
func (s *QuotaService) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// TryIncrement 为当前时刻所在自然日消耗一次配额。
// 上限耗尽时返回 ErrQuotaExceeded，计数保持不变。
func (s *QuotaService) TryIncrement(ctx context.Context, now time.Time) (*domain.DailyCounter, error) {
	date := domain.DateKey(now)

	counter, err := s.repo.IncrementDailyCounter(date)
	if err != nil {
		if s.metrics != nil && errors.Is(err, storage.ErrQuotaExceeded) {
			s.metrics.QuotaBlocked.Inc()
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.QuotaConsumed.Inc()
	}

	if s.cache != nil {
		if err := s.cache.InvalidateDailyCounter(ctx, date); err != nil {
			s.log.Warn("配额缓存失效失败", zap.String("date", date), zap.Error(err))
		}
	}

	return counter, nil
}

// Snapshot 返回当前时刻所在自然日的配额快照。
func (s *QuotaService) Snapshot(ctx context.Context, now time.Time) (*domain.DailyCounter, error) {
	date := domain.DateKey(now)

	if s.cache != nil {
		if cached, err := s.cache.GetCachedDailyCounter(ctx, date); err == nil {
			return cached, nil
		}
	}

	counter, err := s.repo.GetDailyCounter(date)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheDailyCounter(ctx, counter, quotaCacheTTL); err != nil {
			s.log.Warn("配额缓存写入失败", zap.String("date", date), zap.Error(err))
		}
	}

	return counter, nil
}

// Remaining 返回计数的剩余额度，不会为负。
func Remaining(counter *domain.DailyCounter) int {
	left := counter.MaxCount - counter.SentCount
	if left < 0 {
		return 0
	}
	return left
}
