package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mmaxou/Moemail-for-University/internal/domain"
)

// ErrCacheMiss 表示缓存未命中。
var ErrCacheMiss = errors.New("cache miss")

// ========== 每日配额缓存 ==========

// 配额读取远多于写入，计数快照缓存一小段时间即可，
// 自增成功后必须失效，保证展示值最多落后一个 TTL。

func dailyCounterKey(date string) string {
	return fmt.Sprintf("quota:daily:%s", date)
}

// CacheDailyCounter 缓存每日配额计数快照。
func (c *Client) CacheDailyCounter(ctx context.Context, counter *domain.DailyCounter, ttl time.Duration) error {
	data, err := json.Marshal(counter)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, dailyCounterKey(counter.Date), data, ttl).Err()
}

// GetCachedDailyCounter 读取缓存的配额计数快照。
func (c *Client) GetCachedDailyCounter(ctx context.Context, date string) (*domain.DailyCounter, error) {
	data, err := c.rdb.Get(ctx, dailyCounterKey(date)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var counter domain.DailyCounter
	if err := json.Unmarshal([]byte(data), &counter); err != nil {
		return nil, err
	}
	return &counter, nil
}

// InvalidateDailyCounter 失效指定日期的配额缓存。
func (c *Client) InvalidateDailyCounter(ctx context.Context, date string) error {
	return c.rdb.Del(ctx, dailyCounterKey(date)).Err()
}
