package config

import (
	"fmt"
	"strconv"
	"time"

	"ndnrepo/pkg/fetch"
	"ndnrepo/pkg/meta"
	"ndnrepo/pkg/storage/badger"
	"ndnrepo/pkg/storage/cache"
	"ndnrepo/pkg/storage/s3"
)

// Config 是节点和客户端共用的完整配置
type Config struct {
	Cluster  ClusterConfig  `mapstructure:"cluster"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    cache.Config   `mapstructure:"cache"`
	Database meta.Config    `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ClusterConfig struct {
	Prefix string `mapstructure:"prefix" validate:"required,startswith=/"`
	ID     int    `mapstructure:"id" validate:"gte=0,ltfield=Size"`
	Size   int    `mapstructure:"size" validate:"required,gt=0"`
	// Peers: 成员编号 -> gRPC 地址 (host:port)
	Peers map[string]string `mapstructure:"peers" validate:"dive,keys,numeric,endkeys,required"`
}

// PeerMap 把配置里的字符串编号转换成整数
func (c ClusterConfig) PeerMap() (map[int]string, error) {
	out := make(map[int]string, len(c.Peers))
	for k, addr := range c.Peers {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("cluster.peers: invalid member id %q", k)
		}
		if id < 0 || id >= c.Size {
			return nil, fmt.Errorf("cluster.peers: member id %d outside cluster of size %d", id, c.Size)
		}
		out[id] = addr
	}
	return out, nil
}

type ServerConfig struct {
	Listen string `mapstructure:"listen" validate:"required"`
}

type MetricsConfig struct {
	// 为空时不开启 /metrics
	Listen string `mapstructure:"listen"`
}

type StorageConfig struct {
	Type       string        `mapstructure:"type" validate:"required,oneof=disk badger s3 memory"`
	Path       string        `mapstructure:"path"`
	MaxPackets int           `mapstructure:"max_packets" validate:"gte=0"`
	S3         s3.Config     `mapstructure:"s3" validate:"-"`
	Badger     badger.Config `mapstructure:"badger"`
}

type EngineConfig struct {
	fetch.Config      `mapstructure:",squash"`
	ProcessDeleteTime time.Duration `mapstructure:"process_delete_time" validate:"gt=0"`
	InterestLifetime  time.Duration `mapstructure:"interest_lifetime" validate:"gt=0"`
	// ShardBlockSize 是 repoctl put 把大对象分散到集群时每块的分段数
	ShardBlockSize uint64 `mapstructure:"shard_block_size" validate:"gt=0"`
}

type SecurityConfig struct {
	// 为空表示不校验命令签名
	Key string `mapstructure:"key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}
