package meta

import (
	"time"

	"gorm.io/datatypes"
)

// ManifestModel 是 core.Manifest 在关系型数据库中的投影 (索引)
// Blob Store 里的 JSON 文本才是权威数据；这张表用于启动时重建名字索引和按前缀检索
type ManifestModel struct {
	// Hash 是主键 (名字的摘要)
	Hash string `gorm:"primaryKey;type:char(64)"`

	// Name 是对象名字的 URI，按前缀查询
	Name string `gorm:"index;type:varchar(1024);not null"`

	// 分段边界，未知时为 NULL
	StartBlockID *uint64
	EndBlockID   *uint64

	// Shards: [{"name": "/cluster/0", "start": 0, "end": 9}, ...]
	Shards datatypes.JSON

	// Holder 是单包对象所在的成员，分片对象为空
	Holder string `gorm:"type:varchar(1024)"`

	// ShardCount 冗余存一份，方便统计
	ShardCount int `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName 强制指定表名
func (ManifestModel) TableName() string {
	return "manifests"
}
