package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/config"
	"ndnrepo/pkg/core"
	"ndnrepo/pkg/fetch"
	"ndnrepo/pkg/meta"
	"ndnrepo/pkg/storage/badger"
	"ndnrepo/pkg/storage/disk"
	"ndnrepo/pkg/storage/memory"
)

func TestInitStore_Disk(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "disk", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &disk.Adapter{}, store)
}

func TestInitStore_BadgerInMemory(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "badger"})
	require.NoError(t, err)
	require.IsType(t, &badger.Store{}, store)
	assert.NoError(t, store.(*badger.Store).Close())
}

func TestInitStore_S3_MissingBucket(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "s3"})
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestInitStore_UnknownType(t *testing.T) {
	store, err := initStore(context.Background(), config.StorageConfig{Type: "ftp"})
	assert.Error(t, err)
	assert.Nil(t, store)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Cluster: config.ClusterConfig{Prefix: "/lab", ID: 1, Size: 3},
		Server:  config.ServerConfig{Listen: ":0"},
		Storage: config.StorageConfig{Type: "memory"},
		Database: meta.Config{
			Type: "sqlite",
			Path: filepath.Join(t.TempDir(), "catalog.db"),
		},
		Engine: config.EngineConfig{
			Config:            fetch.Config{Credit: 3, RetryLimit: 1, NoEndTimeout: time.Second},
			ProcessDeleteTime: 2 * time.Second,
			InterestLifetime:  500 * time.Millisecond,
			ShardBlockSize:    8,
		},
		Security: config.SecurityConfig{Key: "k"},
	}
}

func TestNewApp_Wiring(t *testing.T) {
	a, err := NewApp(context.Background(), testConfig(t), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.IsType(t, &memory.Store{}, a.Store)
	assert.True(t, a.NodePrefix().Equal(core.MustParseName("/lab/1")))
	require.NotNil(t, a.Catalog, "sqlite catalog is enabled")

	nc := a.NodeConfig()
	assert.Equal(t, 3, nc.Fetch.Credit)
	assert.Equal(t, 2*time.Second, nc.ProcessDeleteTime)
	assert.Equal(t, 500*time.Millisecond, nc.InterestLifetime)

	opts, err := a.NodeOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	// 存储事件会进入指标
	d, err := core.NewData(core.MustParseName("/a/b"), []byte("xyz"), nil)
	require.NoError(t, err)
	stored, err := a.Repo.InsertData(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, stored)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	var seen bool
	for _, f := range families {
		if f.GetName() == "ndnrepo_storage_packets" {
			seen = true
			assert.Equal(t, 1.0, f.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, seen)
}
