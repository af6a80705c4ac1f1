package azure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const tokenCachePrefix = "llm:azuread:"

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TokenCache 是换取到的访问令牌的双层 TTL 缓存：进程内 map 为一级，
// 可选 Redis 为二级（多实例共享）。过期条目在读取时惰性剔除，没有
// 后台清理。两个并发调用同时未命中、各自换取一次令牌是可接受的，
// 交换幂等，后写覆盖先写。
type TokenCache struct {
	mu     sync.Mutex
	local  map[string]cachedToken
	rdb    *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewTokenCache 构造令牌缓存。rdb 为 nil 时仅使用进程内缓存。
func NewTokenCache(rdb *redis.Client, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCache{
		local:  make(map[string]cachedToken),
		rdb:    rdb,
		logger: logger,
		now:    time.Now,
	}
}

// Get 返回未过期的缓存令牌。Redis 命中会回填进程内缓存。
func (c *TokenCache) Get(ctx context.Context, key string) (string, bool) {
	c.mu.Lock()
	if e, ok := c.local[key]; ok {
		if c.now().Before(e.ExpiresAt) {
			c.mu.Unlock()
			azureTokenCacheTotal.WithLabelValues("hit").Inc()
			return e.AccessToken, true
		}
		delete(c.local, key) // 惰性剔除
	}
	c.mu.Unlock()

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, tokenCachePrefix+key).Bytes()
		if err == nil {
			var e cachedToken
			if json.Unmarshal(data, &e) == nil && c.now().Before(e.ExpiresAt) {
				c.mu.Lock()
				c.local[key] = e
				c.mu.Unlock()
				azureTokenCacheTotal.WithLabelValues("hit").Inc()
				return e.AccessToken, true
			}
		} else if err != redis.Nil {
			c.logger.Warn("token cache redis get failed", zap.Error(err))
		}
	}

	azureTokenCacheTotal.WithLabelValues("miss").Inc()
	return "", false
}

// Set 按上游返回的有效期写入两级缓存。Redis 写失败只记日志，
// 不影响本次请求。
func (c *TokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	e := cachedToken{AccessToken: token, ExpiresAt: c.now().Add(ttl)}

	c.mu.Lock()
	c.local[key] = e
	c.mu.Unlock()

	if c.rdb != nil {
		data, err := json.Marshal(e)
		if err == nil {
			err = c.rdb.Set(ctx, tokenCachePrefix+key, data, ttl).Err()
		}
		if err != nil {
			c.logger.Warn("token cache redis set failed", zap.Error(err))
		}
	}
}
