// pkg/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"ndnrepo/pkg/config"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/manifest"
	"ndnrepo/pkg/meta"
	"ndnrepo/pkg/metrics"
	"ndnrepo/pkg/router"
	"ndnrepo/pkg/security"
	"ndnrepo/pkg/service"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/storage/badger"
	"ndnrepo/pkg/storage/cache"
	"ndnrepo/pkg/storage/disk"
	"ndnrepo/pkg/storage/memory"
	"ndnrepo/pkg/storage/s3"
)

// App 是整个节点的依赖容器 (Dependency Container)
// 它持有所有“单例”服务，但不知道事件循环和网络
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store     storage.Store
	Repo      *storage.RepoStorage
	Router    *router.Router
	Manifests *manifest.Store

	DB      *meta.DB         // 未配置数据库时为 nil
	Catalog *meta.Repository // 同上

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	closers []io.Closer
}

// NewApp 是工厂函数，按配置组装存储、目录和指标
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	// 1. 集群路由
	prefix, err := core.ParseName(cfg.Cluster.Prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid cluster prefix: %w", err)
	}
	a.Router = router.New(prefix, cfg.Cluster.Size)

	// 2. 存储层 (可选 Redis 存在性缓存)
	store, err := initStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to init storage: %w", err)
	}
	a.track(store)
	if cfg.Cache.RedisURL != "" {
		cached, err := cache.NewCachedStore(store, cfg.Cache)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to init cache: %w", err)
		}
		a.track(cached)
		store = cached
	}
	a.Store = store

	// 3. 指标
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	// 4. 仓库存储与 Manifest
	a.Repo = storage.NewRepoStorage(store, cfg.Storage.MaxPackets, logger)
	a.Repo.Subscribe(a.Metrics.ObserveStorage)
	a.Manifests = manifest.NewStore(store, a.Router, logger)

	// 5. 元数据目录 (可选)
	if cfg.Database.Enabled() {
		db, err := meta.NewDB(ctx, cfg.Database)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.track(db)
		a.DB = db
		a.Catalog = meta.NewRepository(db)
	}

	return a, nil
}

// initStore 根据 storage.type 选择后端
func initStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "disk":
		if cfg.Path == "" {
			return nil, errors.New("storage path not set")
		}
		return disk.NewAdapter(cfg.Path)
	case "badger":
		bc := cfg.Badger
		if bc.Path == "" {
			bc.Path = cfg.Path
		}
		return badger.Open(bc)
	case "s3":
		if cfg.S3.Bucket == "" {
			return nil, errors.New("s3 bucket is required")
		}
		return s3.NewAdapter(ctx, cfg.S3)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

// NodePrefix 返回本节点的成员前缀
func (a *App) NodePrefix() core.Name {
	return a.Router.MemberPrefix(a.Config.Cluster.ID)
}

// NodeConfig 把引擎配置转换成 service.Config
func (a *App) NodeConfig() service.Config {
	cfg := service.DefaultConfig(a.NodePrefix())
	cfg.Fetch = a.Config.Engine.Config
	cfg.ProcessDeleteTime = a.Config.Engine.ProcessDeleteTime
	cfg.InterestLifetime = a.Config.Engine.InterestLifetime
	return cfg
}

// NodeOptions 返回节点需要的可选组件
func (a *App) NodeOptions() ([]service.Option, error) {
	v, s, err := security.New(a.Config.Security.Key)
	if err != nil {
		return nil, err
	}
	opts := []service.Option{
		service.WithValidator(v, s),
		service.WithMetrics(a.Metrics),
		service.WithLogger(a.Logger),
	}
	if a.Catalog != nil {
		opts = append(opts, service.WithCatalog(a.Catalog))
	}
	return opts, nil
}

// Close 按创建的逆序关闭资源
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
