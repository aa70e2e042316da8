package s3

import (
	"context"
	"net"
	"testing"
	"time"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 简单的 Mock 对象，用于充当数据包
type mockObject struct {
	key  string
	data []byte
}

func (m mockObject) Key() string           { return m.key }
func (m mockObject) Bytes() []byte         { return m.data }
func (m mockObject) Type() core.ObjectType { return core.TypeData }

// 检查本地 MinIO 端口是否开放 (9000)
// 如果没开，跳过测试，避免报错干扰
func isMinIOAvailable(t *testing.T) bool {
	host := "localhost:9000"
	conn, err := net.DialTimeout("tcp", host, 1*time.Second)
	if err != nil {
		t.Logf("⚠️ MinIO not reachable at %s. Skipping integration tests.", host)
		return false
	}
	conn.Close()
	return true
}

func TestTransformKey(t *testing.T) {
	a := &Adapter{}
	dir, file := storage.Layout(storage.Digest("/a/b"))
	assert.Equal(t, dir+"/"+file, a.transformKey("/a/b"))

	a.prefix = "node-1"
	assert.Equal(t, "node-1/"+dir+"/"+file, a.transformKey("/a/b"))
}

func TestS3Adapter_Integration(t *testing.T) {
	// A. 环境检查
	if !isMinIOAvailable(t) {
		t.Skip("Skipping S3 integration tests (MinIO down)")
	}

	// B. 初始化 Adapter，每次用独立前缀隔离
	cfg := Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "ndnrepo-test-bucket",
		AccessKeyID:     "admin",
		SecretAccessKey: "password",
		Prefix:          "it-" + time.Now().Format("20060102150405.000000"),
	}

	ctx := context.Background()
	store, err := NewAdapter(ctx, cfg)
	require.NoError(t, err, "Failed to connect to MinIO")

	obj := mockObject{key: "/s3/test/%00%00", data: []byte("Hello S3 World")}

	t.Run("Put", func(t *testing.T) {
		assert.NoError(t, store.Put(ctx, obj))
	})

	t.Run("Has", func(t *testing.T) {
		exists, err := store.Has(ctx, obj.key)
		assert.NoError(t, err)
		assert.True(t, exists, "Object should exist in S3")

		exists, _ = store.Has(ctx, "/s3/none")
		assert.False(t, exists, "Non-existent object should return false")
	})

	t.Run("Get", func(t *testing.T) {
		content, err := store.Get(ctx, obj.key)
		assert.NoError(t, err)
		assert.Equal(t, obj.data, content, "Content read from S3 should match")

		_, err = store.Get(ctx, "/s3/none")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Enumerate", func(t *testing.T) {
		var keys []string
		require.NoError(t, store.Enumerate(ctx, func(key string, _ []byte) error {
			keys = append(keys, key)
			return nil
		}))
		assert.Equal(t, []string{obj.key}, keys)
	})

	t.Run("Delete", func(t *testing.T) {
		removed, err := store.Delete(ctx, obj.key)
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = store.Delete(ctx, obj.key)
		require.NoError(t, err)
		assert.False(t, removed)
	})
}
