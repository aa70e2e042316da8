package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"
)

// 模拟一个简单的 Object 实现，用于测试
type mockObject struct {
	key  string
	data []byte
}

func (m mockObject) Key() string           { return m.key }
func (m mockObject) Bytes() []byte         { return m.data }
func (m mockObject) Type() core.ObjectType { return core.TypeData }

func TestDiskAdapter(t *testing.T) {
	// 1. 创建临时测试目录
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)

	ctx := context.Background()
	obj := mockObject{key: "/hello/%00%01", data: []byte("hello world")}

	// 2. 测试 Put
	require.NoError(t, store.Put(ctx, obj))

	// 验证文件是否真的存在于 Sharding 目录中
	dir, file := storage.Layout(storage.Digest(obj.key))
	_, err = os.Stat(filepath.Join(tmpDir, dir, file))
	assert.NoError(t, err, "文件应该存在于 Sharding 目录中")

	// 3. 测试 Has
	exists, err := store.Has(ctx, obj.key)
	assert.NoError(t, err)
	assert.True(t, exists)

	exists, err = store.Has(ctx, "/missing")
	assert.NoError(t, err)
	assert.False(t, exists)

	// 4. 测试 Get
	content, err := store.Get(ctx, obj.key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), content)

	_, err = store.Get(ctx, "/missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// 5. 覆盖写
	require.NoError(t, store.Put(ctx, mockObject{key: obj.key, data: []byte("v2")}))
	content, err = store.Get(ctx, obj.key)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)

	// 6. 测试 Delete
	removed, err := store.Delete(ctx, obj.key)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = store.Delete(ctx, obj.key)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDiskAdapter_Enumerate(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewAdapter(tmpDir)
	require.NoError(t, err)
	ctx := context.Background()

	want := map[string]string{"/a/1": "one", "/a/2": "two", "abcdef": "manifest"}
	for k, v := range want {
		require.NoError(t, store.Put(ctx, mockObject{key: k, data: []byte(v)}))
	}
	// 残留的临时文件应被忽略
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "temp-123"), []byte("junk"), 0644))

	got := make(map[string]string)
	err = store.Enumerate(ctx, func(key string, data []byte) error {
		got[key] = string(data)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
