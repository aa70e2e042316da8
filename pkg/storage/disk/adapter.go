package disk

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"
)

// Adapter 实现了 storage.Store 接口
type Adapter struct {
	rootPath string // 比如: /var/lib/ndnrepo/objects
}

var _ storage.Store = (*Adapter)(nil)

// NewAdapter 创建一个新的磁盘存储适配器
func NewAdapter(root string) (*Adapter, error) {
	// 确保根目录存在
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root storage dir: %w", err)
	}
	return &Adapter{rootPath: root}, nil
}

// layout 返回 Key 对应的物理路径
// 策略：对 Key 取摘要，前 2 个字符作为子目录 (Sharding)
func (s *Adapter) layout(key string) string {
	dir, file := storage.Layout(storage.Digest(key))
	return filepath.Join(s.rootPath, dir, file)
}

func (s *Adapter) Put(ctx context.Context, obj core.Object) error {
	targetPath := s.layout(obj.Key())

	sealed, err := storage.Seal(obj.Key(), obj.Bytes())
	if err != nil {
		return err
	}

	// 1. 准备目录
	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	// 2. 原子写入 (Atomic Write)
	// 先写到一个临时文件，然后 Rename。
	// 这样保证要么文件不存在，要么文件是完整的。
	tempFile, err := os.CreateTemp(dir, "temp-*")
	if err != nil {
		return err
	}
	// 确保临时文件会被清理（如果成功 Rename 了，这个删除会失效，或者无害）
	defer os.Remove(tempFile.Name())

	if _, err := tempFile.Write(sealed); err != nil {
		tempFile.Close()
		return err
	}
	tempFile.Close() // 必须先关闭才能 Rename

	// 3. 移动到最终位置 (覆盖旧版本)
	return os.Rename(tempFile.Name(), targetPath)
}

func (s *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := os.ReadFile(s.layout(key))
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	stored, data, err := storage.Open(raw)
	if err != nil {
		return nil, err
	}
	// 摘要碰撞或文件被替换
	if stored != key {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (s *Adapter) Has(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.layout(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	err := os.Remove(s.layout(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Enumerate 遍历两级目录下的全部对象，跳过写了一半的临时文件
func (s *Adapter) Enumerate(ctx context.Context, fn func(key string, data []byte) error) error {
	return filepath.WalkDir(s.rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), "temp-") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		key, data, err := storage.Open(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return fn(key, data)
	})
}
