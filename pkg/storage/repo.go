package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
)

// EventKind 标识存储事件的类型
type EventKind int

const (
	EventInsert EventKind = iota
	EventDelete
)

func (k EventKind) String() string {
	if k == EventInsert {
		return "insert"
	}
	return "delete"
}

type Event struct {
	Kind EventKind
	Name core.Name
	Size int
}

// RepoStorage 把数据包存储和数据索引组合在一起
// 数据包以名字 URI 为 Key 存入 Store，同时登记到前缀索引，读路径通过索引做选择器匹配
type RepoStorage struct {
	store  Store
	index  *index.Index
	logger *slog.Logger

	mu        sync.RWMutex
	observers map[int]func(Event)
	nextObs   int
}

func NewRepoStorage(store Store, maxPackets int, logger *slog.Logger) *RepoStorage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepoStorage{
		store:     store,
		index:     index.NewIndex(maxPackets),
		logger:    logger,
		observers: make(map[int]func(Event)),
	}
}

// Store 返回底层的 Store (Manifest 与数据包共用)
func (r *RepoStorage) Store() Store { return r.store }

// Index 返回数据索引
func (r *RepoStorage) Index() *index.Index { return r.index }

// isDataKey 数据包的 Key 是名字 URI，总是以 '/' 开头；Manifest 的 Key 是十六进制摘要
func isDataKey(key string) bool {
	return strings.HasPrefix(key, "/")
}

// Initialize 遍历 Store 重建数据索引
func (r *RepoStorage) Initialize(ctx context.Context) error {
	r.index.Reset()
	count, skipped := 0, 0
	err := r.store.Enumerate(ctx, func(key string, raw []byte) error {
		if !isDataKey(key) {
			return nil
		}
		d, err := core.DecodeData(raw)
		if err != nil {
			// 单个损坏的对象不影响启动
			r.logger.Warn("Skipping corrupted data packet", "key", key, "err", err)
			skipped++
			return nil
		}
		if _, err := r.index.Insert(index.Entry{Name: d.Name(), Handle: key}); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to rebuild data index: %w", err)
	}
	r.logger.Info("Data index rebuilt", "packets", count, "skipped", skipped)
	return nil
}

// InsertData 写入数据包；同名包已存在时视为成功但不重复写入
func (r *RepoStorage) InsertData(ctx context.Context, d *core.Data) (bool, error) {
	name := d.Name()
	if r.index.Exists(name) {
		return false, nil
	}
	if err := r.store.Put(ctx, d); err != nil {
		return false, fmt.Errorf("failed to store %s: %w", name, err)
	}

	inserted, err := r.index.Insert(index.Entry{Name: name, Handle: d.Key()})
	if errors.Is(err, index.ErrFull) {
		// 回滚，避免 Store 里出现索引之外的孤儿
		if _, delErr := r.store.Delete(ctx, d.Key()); delErr != nil {
			r.logger.Warn("Failed to roll back packet", "name", name.String(), "err", delErr)
		}
		return false, ErrFull
	}
	if err != nil {
		return false, err
	}
	if inserted {
		r.publish(Event{Kind: EventInsert, Name: name, Size: len(d.Content)})
	}
	return inserted, nil
}

// ReadData 按名字和选择器读取一个数据包
func (r *RepoStorage) ReadData(ctx context.Context, name core.Name, sel index.Selectors) (*core.Data, error) {
	e, ok := r.index.Select(name, sel)
	if !ok {
		return nil, ErrNotFound
	}
	raw, err := r.store.Get(ctx, e.Handle)
	if err != nil {
		return nil, err
	}
	return core.DecodeData(raw)
}

// HasData 精确匹配
func (r *RepoStorage) HasData(name core.Name) bool {
	return r.index.Exists(name)
}

// DeleteData 删除精确同名的数据包
func (r *RepoStorage) DeleteData(ctx context.Context, name core.Name) (bool, error) {
	if !r.index.Exists(name) {
		return false, nil
	}
	removed, err := r.store.Delete(ctx, name.String())
	if err != nil {
		return false, err
	}
	r.index.Erase(name)
	if removed {
		r.publish(Event{Kind: EventDelete, Name: name})
	}
	return removed, nil
}

// Subscribe 登记存储事件观察者，返回的函数用于取消登记
func (r *RepoStorage) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	id := r.nextObs
	r.nextObs++
	r.observers[id] = fn
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

func (r *RepoStorage) publish(ev Event) {
	r.mu.RLock()
	obs := make([]func(Event), 0, len(r.observers))
	for _, fn := range r.observers {
		obs = append(obs, fn)
	}
	r.mu.RUnlock()

	for _, fn := range obs {
		fn(ev)
	}
}
