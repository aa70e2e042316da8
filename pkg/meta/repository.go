package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/types"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrManifestNotFound = errors.New("manifest not found in catalog")

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// IndexManifest 将 core.Manifest "投影" 到 SQL 数据库中
// 同一个 Hash 再次写入时覆盖边界与分片 (Upsert)
func (r *Repository) IndexManifest(ctx context.Context, m *core.Manifest) error {
	// 1. 转换分片列表
	shards := m.Shards
	if shards == nil {
		shards = []core.Shard{}
	}
	shardsJSON, err := json.Marshal(shards)
	if err != nil {
		return fmt.Errorf("failed to marshal shards: %w", err)
	}

	// 2. 构造 Model
	model := ManifestModel{
		Hash:         m.Hash().String(),
		Name:         m.Name().String(),
		StartBlockID: m.StartBlockID,
		EndBlockID:   m.EndBlockID,
		Shards:       datatypes.JSON(shardsJSON),
		ShardCount:   len(m.Shards),
		Holder:       m.Holder,
	}

	// 3. 写入数据库
	err = r.db.GetConn().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash"}},
			DoUpdates: clause.AssignmentColumns([]string{"start_block_id", "end_block_id", "shards", "shard_count", "holder", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to index manifest: %w", err)
	}
	return nil
}

func (r *Repository) GetManifest(ctx context.Context, hash types.Hash) (*ManifestModel, error) {
	var m ManifestModel
	err := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", hash.String()).
		First(&m).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrManifestNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// DeleteManifest 返回是否删除了记录
func (r *Repository) DeleteManifest(ctx context.Context, hash types.Hash) (bool, error) {
	res := r.db.GetConn().WithContext(ctx).
		Where("hash = ?", hash.String()).
		Delete(&ManifestModel{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete manifest: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// FindByPrefix 按名字前缀查找 (组件边界对齐："/a" 不匹配 "/ab")
func (r *Repository) FindByPrefix(ctx context.Context, prefix core.Name, limit int) ([]ManifestModel, error) {
	uri := prefix.String()
	q := r.db.GetConn().WithContext(ctx).Order("name ASC")
	if prefix.Size() > 0 {
		q = q.Where("name = ? OR name LIKE ? ESCAPE '\\'", uri, escapeLike(uri)+"/%")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var out []ManifestModel
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Each 分批遍历全部记录 (启动时重建索引)
func (r *Repository) Each(ctx context.Context, fn func(*ManifestModel) error) error {
	var batch []ManifestModel
	return r.db.GetConn().WithContext(ctx).
		FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if err := fn(&batch[i]); err != nil {
					return err
				}
			}
			return nil
		}).Error
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetConn().WithContext(ctx).Model(&ManifestModel{}).Count(&n).Error
	return n, err
}

// ToManifest 把记录还原为 core.Manifest
func (m *ManifestModel) ToManifest() (*core.Manifest, error) {
	name, err := core.ParseName(m.Name)
	if err != nil {
		return nil, err
	}
	out := core.NewManifest(name)
	var shards []core.Shard
	if len(m.Shards) > 0 {
		if err := json.Unmarshal(m.Shards, &shards); err != nil {
			return nil, fmt.Errorf("corrupted shards column: %w", err)
		}
	}
	for _, s := range shards {
		if err := out.AddShard(s); err != nil {
			return nil, err
		}
	}
	if len(shards) == 0 {
		out.SetSegments(m.StartBlockID, m.EndBlockID)
		out.Holder = m.Holder
	}
	return out, nil
}

// escapeLike 转义 LIKE 模式里的通配符
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
