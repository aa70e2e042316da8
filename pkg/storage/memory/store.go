// Package memory 提供进程内的 Store 实现，用于测试和无持久化的临时节点
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"
)

type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Put(_ context.Context, obj core.Object) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key()] = slices.Clone(obj.Bytes())
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return slices.Clone(data), nil
}

func (s *Store) Has(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	delete(s.objects, key)
	return ok, nil
}

// Enumerate 按 Key 排序遍历，保证结果稳定
func (s *Store) Enumerate(ctx context.Context, fn func(key string, data []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := s.Get(ctx, k)
		if err != nil {
			continue // 遍历期间被删除
		}
		if err := fn(k, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
