// Package manifest 负责 Manifest 的持久化与定位
package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/router"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/types"
)

var (
	ErrNotFound = errors.New("manifest not found")
	// ErrHashMismatch 记录的 Hash 与重新计算的不一致 (数据损坏)
	// Get 在返回这个错误时仍然返回解析出的 Manifest
	ErrHashMismatch = errors.New("manifest hash mismatch")
)

// Store 把 Manifest 以名字 Hash 为 Key 存入 Blob Store
type Store struct {
	blobs  storage.Store
	router *router.Router
	logger *slog.Logger
}

func NewStore(blobs storage.Store, r *router.Router, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, router: r, logger: logger}
}

// Owner 返回负责保存该名字 Manifest 的集群成员
func (s *Store) Owner(name core.Name) core.Name {
	return s.router.ManifestOwner(name)
}

// Put 序列化并存储，返回 Hash；同名 Manifest 得到同一个 Hash 并覆盖旧内容
func (s *Store) Put(ctx context.Context, m *core.Manifest) (types.Hash, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("refusing to store invalid manifest %s: %w", m.Name(), err)
	}
	if err := s.blobs.Put(ctx, m); err != nil {
		return "", fmt.Errorf("failed to store manifest %s: %w", m.Name(), err)
	}
	return m.Hash(), nil
}

// Get 按 Hash 读取
func (s *Store) Get(ctx context.Context, hash types.Hash) (*core.Manifest, error) {
	raw, err := s.blobs.Get(ctx, hash.String())
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m, stored, err := core.DecodeManifest(raw)
	if err != nil {
		return nil, err
	}
	if stored != m.Hash() || stored != hash {
		s.logger.Warn("Manifest hash mismatch",
			slog.String("key", hash.String()),
			slog.String("stored", stored.String()),
			slog.String("computed", m.Hash().String()),
		)
		return m, ErrHashMismatch
	}
	return m, nil
}

// GetByName 先算 Hash 再读取
func (s *Store) GetByName(ctx context.Context, name core.Name) (*core.Manifest, error) {
	return s.Get(ctx, core.NameHash(name))
}

// Delete 返回是否存在并已删除
func (s *Store) Delete(ctx context.Context, hash types.Hash) (bool, error) {
	return s.blobs.Delete(ctx, hash.String())
}

// Enumerate 遍历 Store 中的全部 Manifest (数据包的 Key 以 '/' 开头，会被跳过)
func (s *Store) Enumerate(ctx context.Context, fn func(*core.Manifest) error) error {
	return s.blobs.Enumerate(ctx, func(key string, raw []byte) error {
		if strings.HasPrefix(key, "/") {
			return nil
		}
		m, _, err := core.DecodeManifest(raw)
		if err != nil {
			s.logger.Warn("Skipping corrupted manifest", "key", key, "err", err)
			return nil
		}
		return fn(m)
	})
}
