package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ndnrepo/pkg/fetch"
	"ndnrepo/pkg/transport"
)

// Load 初始化 Viper 配置并解析成 Config
// cfgFile: 可选，用户显式指定的配置文件路径
func Load(cfgFile string) (*Config, error) {
	// 1. 设置默认值 (Defaults)
	setDefaults()

	// 2. 配置搜索路径
	if cfgFile != "" {
		// 如果用户指定了文件，直接使用
		viper.SetConfigFile(cfgFile)
	} else {
		// 搜索顺序：
		// 1. 当前目录
		viper.AddConfigPath(".")
		// 2. 当前目录下的 .ndnrepo
		viper.AddConfigPath(".ndnrepo")
		// 3. 用户主目录下的 .ndnrepo
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".ndnrepo"))
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName("config") // 找 config.yaml
	}

	// 3. 读取环境变量 (NDNREPO_CLUSTER_ID 等)
	viper.SetEnvPrefix("NDNREPO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// 4. 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 只是没找到配置文件时使用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("fatal error config file: %w", err)
		}
		slog.Debug("No config file found, using defaults and env vars")
	} else {
		slog.Debug("Using config file", "path", viper.ConfigFileUsed())
	}

	// 5. 解析并校验
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults() {
	// 集群默认值：单节点集群
	viper.SetDefault("cluster.prefix", "/ndnrepo")
	viper.SetDefault("cluster.id", 0)
	viper.SetDefault("cluster.size", 1)

	viper.SetDefault("server.listen", ":7376")
	viper.SetDefault("metrics.listen", "")

	// 存储默认值
	wd, _ := os.Getwd()
	viper.SetDefault("storage.type", "disk")
	viper.SetDefault("storage.path", filepath.Join(wd, ".ndnrepo", "data"))
	viper.SetDefault("storage.max_packets", 0)
	viper.SetDefault("storage.s3.region", "us-east-1")

	viper.SetDefault("cache.ttl", 24*time.Hour)

	// 数据库默认不开启，Manifest 索引从存储里重建
	viper.SetDefault("database.type", "none")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.sslmode", "disable")

	fc := fetch.DefaultConfig()
	viper.SetDefault("engine.credit", fc.Credit)
	viper.SetDefault("engine.retry_limit", fc.RetryLimit)
	viper.SetDefault("engine.noend_timeout", fc.NoEndTimeout)
	viper.SetDefault("engine.process_delete_time", 10*time.Second)
	viper.SetDefault("engine.interest_lifetime", transport.DefaultLifetime)
	viper.SetDefault("engine.shard_block_size", 256)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// SetupLogger 按配置构造 slog.Logger 并设为默认 Logger
func SetupLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
