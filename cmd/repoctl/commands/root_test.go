package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/core"
)

func TestDialAddr(t *testing.T) {
	tests := []struct {
		listen string
		want   string
	}{
		{":7376", "localhost:7376"},
		{"0.0.0.0:7376", "localhost:7376"},
		{"10.1.2.3:9000", "10.1.2.3:9000"},
		{"node-1:7376", "node-1:7376"},
		{"dns:///node", "dns:///node"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, dialAddr(tt.listen), tt.listen)
	}
}

func TestParseRange(t *testing.T) {
	start, end, err := parseRange("")
	require.NoError(t, err)
	assert.Nil(t, start)
	assert.Nil(t, end)

	start, end, err = parseRange("3-10")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), *start)
	assert.Equal(t, uint64(10), *end)

	for _, bad := range []string{"3", "10-3", "a-b", "-5", "5-"} {
		_, _, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseName(t *testing.T) {
	name, err := parseName("/files/a.bin")
	require.NoError(t, err)
	assert.Equal(t, 2, name.Size())

	_, err = parseName("/")
	assert.Error(t, err)
	_, err = parseName("relative")
	assert.Error(t, err)
}

func TestCollectFiles(t *testing.T) {
	root := t.TempDir()
	write := func(rel, body string) {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	write("a.bin", "a")
	write("sub/b.bin", "b")
	write("sub/debug.log", "x")
	write(".git/HEAD", "ref")
	write(".repoignore", "*.log\n")

	name := core.MustParseName("/ds")
	files, err := collectFiles(name, root)
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, f.name.String())
	}
	assert.ElementsMatch(t, []string{"/ds/a.bin", "/ds/sub/b.bin"}, names)

	// 单个文件直接使用给定的名字
	files, err = collectFiles(name, filepath.Join(root, "a.bin"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].name.Equal(name))
}
