package meta

import (
	"context"
	"testing"

	"ndnrepo/pkg/core"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 通用辅助函数 (Helpers)
// -----------------------------------------------------------------------------

// mustManifest 创建带分片的 Manifest，失败直接终止测试
func mustManifest(t *testing.T, uri string, shards ...core.Shard) *core.Manifest {
	t.Helper()
	m := core.NewManifest(core.MustParseName(uri))
	for _, s := range shards {
		require.NoError(t, m.AddShard(s))
	}
	return m
}

// mustIndex 强制索引 Manifest，失败则终止
func mustIndex(t *testing.T, repo *Repository, m *core.Manifest, msgAndArgs ...any) {
	t.Helper()
	require.NoError(t, repo.IndexManifest(context.Background(), m), msgAndArgs...)
}
