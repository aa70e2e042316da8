// Package badger 用 BadgerDB 实现嵌入式的 Store
package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"
)

// 所有对象放在 "o:" 前缀下，给以后的元数据留出空间
const objectPrefix = "o:"

type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

type Config struct {
	// Path 为空时使用内存模式 (测试)
	Path             string `mapstructure:"path"`
	BlockCacheSizeMB int64  `mapstructure:"block_cache_mb"`
}

func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	// 数据包本身一般已经是压缩过的内容，压缩收益不大
	opts = opts.WithLoggingLevel(badger.WARNING).WithCompression(options.None)
	if cfg.BlockCacheSizeMB > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSizeMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

func objectKey(key string) []byte {
	return []byte(objectPrefix + key)
}

func (s *Store) Put(ctx context.Context, obj core.Object) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(objectKey(obj.Key()), obj.Bytes())
	})
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(objectKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return data, err
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete 在同一个事务里检查并删除
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(objectKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		existed = true
		return txn.Delete(objectKey(key))
	})
	return existed, err
}

func (s *Store) Enumerate(ctx context.Context, fn func(key string, data []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		opts.Prefix = []byte(objectPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		n := 0
		for it.Rewind(); it.Valid(); it.Next() {
			// 定期检查 context
			if n%100 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			n++

			item := it.Item()
			key := string(item.Key()[len(objectPrefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
