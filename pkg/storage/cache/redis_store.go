package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"

	"github.com/redis/go-redis/v9"
)

// CachedStore 是一个装饰器，它为底层的 storage.Store 添加 Redis 存在性缓存
type CachedStore struct {
	backend storage.Store // 被装饰的底层存储 (如 S3)
	client  *redis.Client
	ttl     time.Duration
	prefix  string
}

var _ storage.Store = (*CachedStore)(nil)

type Config struct {
	RedisURL string        `mapstructure:"redis_url"` // redis://<user>:<password>@<host>:<port>/<db>
	TTL      time.Duration `mapstructure:"ttl"`
	Prefix   string        `mapstructure:"prefix"` // 多个节点共用一个 Redis 时用来隔离
}

func NewCachedStore(backend storage.Store, cfg Config) (*CachedStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Fail-fast 连接检查
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ndnrepo"
	}
	return &CachedStore{
		backend: backend,
		client:  client,
		ttl:     cfg.TTL,
		prefix:  prefix,
	}, nil
}

// cacheKey 生成 Redis Key，添加前缀防止冲突
func (s *CachedStore) cacheKey(key string) string {
	return s.prefix + ":obj:" + key
}

// Has 优先查 Redis
func (s *CachedStore) Has(ctx context.Context, key string) (bool, error) {
	ck := s.cacheKey(key)

	// 1. 查 Redis
	val, err := s.client.Exists(ctx, ck).Result()
	if err != nil {
		// 缓存故障降级：退化为无缓存模式，直接查底层存储
		slog.Warn("Redis unavailable, falling back to backend", "err", err)
	} else if val > 0 {
		return true, nil
	}

	// 2. 缓存未命中，查底层存储
	found, err := s.backend.Has(ctx, key)
	if err != nil {
		return false, err
	}

	// 3. 缓存回填 (异步，不阻塞主流程)
	if found {
		go func() {
			fillCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.client.Set(fillCtx, ck, "1", s.ttl)
		}()
	}
	return found, nil
}

// Put 先写底层存储，成功后再写缓存
func (s *CachedStore) Put(ctx context.Context, obj core.Object) error {
	if err := s.backend.Put(ctx, obj); err != nil {
		return err
	}
	// 这里的 Set 错误可以忽略，不影响主流程
	s.client.Set(ctx, s.cacheKey(obj.Key()), "1", s.ttl)
	return nil
}

// Get 透传，只缓存存在性
func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.backend.Get(ctx, key)
}

// Delete 先让缓存失效，避免删除后 Has 仍然命中
func (s *CachedStore) Delete(ctx context.Context, key string) (bool, error) {
	if err := s.client.Del(ctx, s.cacheKey(key)).Err(); err != nil {
		slog.Warn("Failed to invalidate cache entry", "key", key, "err", err)
	}
	return s.backend.Delete(ctx, key)
}

func (s *CachedStore) Enumerate(ctx context.Context, fn func(key string, data []byte) error) error {
	return s.backend.Enumerate(ctx, fn)
}

func (s *CachedStore) Close() error {
	return s.client.Close()
}
