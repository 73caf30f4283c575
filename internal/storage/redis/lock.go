package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// releaseScript 只释放自己持有的锁，避免超时后误删他人的锁。
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock 基于 SET NX EX 的分布式锁。
//
// 用于多副本部署下的清理任务互斥，锁自带过期时间，
// 持有者崩溃后锁随 TTL 自动释放。
type Lock struct {
	client *goredis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewLock 创建分布式锁实例。
func (c *Client) NewLock(key string, ttl time.Duration) *Lock {
	return &Lock{
		client: c.rdb,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// TryAcquire 非阻塞地尝试获取锁，已被他人持有时返回 false。
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
}

// Release 释放锁，只有持有者的释放才会生效。
func (l *Lock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
}
