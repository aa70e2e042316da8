package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// 辅助工具
// -----------------------------------------------------------------------------

// mustParse 解析名字，失败直接终止测试
func mustParse(t *testing.T, uri string) Name {
	t.Helper()
	n, err := ParseName(uri)
	require.NoError(t, err, "parse %q", uri)
	return n
}

func u64(v uint64) *uint64 { return &v }
