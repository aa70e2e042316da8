package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ndnrepo/pkg/core"
	"ndnrepo/pkg/index"
	"ndnrepo/pkg/storage"
	"ndnrepo/pkg/storage/memory"
)

func packet(t *testing.T, uri string, content string) *core.Data {
	t.Helper()
	d, err := core.NewData(core.MustParseName(uri), []byte(content), nil)
	require.NoError(t, err)
	return d
}

func TestRepoStorage_InsertReadDelete(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewRepoStorage(memory.New(), 0, nil)

	var events []storage.Event
	unsubscribe := repo.Subscribe(func(ev storage.Event) { events = append(events, ev) })

	ok, err := repo.InsertData(ctx, packet(t, "/obj/%00%00", "seg0"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.InsertData(ctx, packet(t, "/obj/%00%01", "seg1"))
	require.NoError(t, err)
	assert.True(t, ok)

	// 重复写入不报错也不产生事件
	ok, err = repo.InsertData(ctx, packet(t, "/obj/%00%00", "other"))
	require.NoError(t, err)
	assert.False(t, ok)
	require.Len(t, events, 2)
	assert.Equal(t, storage.EventInsert, events[0].Kind)
	assert.Equal(t, 4, events[0].Size)

	// 最右子节点
	d, err := repo.ReadData(ctx, core.MustParseName("/obj"), index.Selectors{ChildSelector: 1})
	require.NoError(t, err)
	assert.Equal(t, "seg1", string(d.Content))

	_, err = repo.ReadData(ctx, core.MustParseName("/none"), index.Selectors{})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	removed, err := repo.DeleteData(ctx, core.MustParseName("/obj/%00%01"))
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, repo.HasData(core.MustParseName("/obj/%00%01")))
	require.Len(t, events, 3)
	assert.Equal(t, storage.EventDelete, events[2].Kind)

	unsubscribe()
	_, err = repo.DeleteData(ctx, core.MustParseName("/obj/%00%00"))
	require.NoError(t, err)
	assert.Len(t, events, 3, "no events after unsubscribe")
}

func TestRepoStorage_Full(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	repo := storage.NewRepoStorage(store, 1, nil)

	_, err := repo.InsertData(ctx, packet(t, "/a", "1"))
	require.NoError(t, err)
	_, err = repo.InsertData(ctx, packet(t, "/b", "2"))
	assert.ErrorIs(t, err, storage.ErrFull)
	assert.Equal(t, 1, store.Len(), "rejected packet is rolled back")
}

func TestRepoStorage_InitializeRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	first := storage.NewRepoStorage(store, 0, nil)
	for _, uri := range []string{"/x/%00%00", "/x/%00%01", "/y"} {
		_, err := first.InsertData(ctx, packet(t, uri, uri))
		require.NoError(t, err)
	}
	// Manifest 与数据包共用 Store，重建时应被跳过
	m := core.NewManifest(core.MustParseName("/x"))
	require.NoError(t, store.Put(ctx, m))

	second := storage.NewRepoStorage(store, 0, nil)
	require.NoError(t, second.Initialize(ctx))
	assert.Equal(t, 3, second.Index().Len())

	d, err := second.ReadData(ctx, core.MustParseName("/x/%00%01"), index.Selectors{})
	require.NoError(t, err)
	assert.Equal(t, "/x/%00%01", string(d.Content))
}
