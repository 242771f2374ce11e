package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat/client/models"
)

func TestMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	id, err := st.Add(ctx, "rooms", map[string]any{
		"name":      "general",
		"members":   []string{"u1"},
		"createdAt": ServerTimestamp,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	doc, err := st.Get(ctx, "rooms", id)
	require.NoError(t, err)
	assert.Equal(t, "general", doc.Fields["name"])
	// ServerTimestamp 標記應該被換成實際時間
	_, ok := doc.Fields["createdAt"].(time.Time)
	assert.True(t, ok, "createdAt 應該被解析成伺服器時間")

	require.NoError(t, st.Update(ctx, "rooms", id, map[string]any{"name": "renamed"}))
	doc, err = st.Get(ctx, "rooms", id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", doc.Fields["name"])

	require.NoError(t, st.Delete(ctx, "rooms", id))
	_, err = st.Get(ctx, "rooms", id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	_, err := st.Get(ctx, "rooms", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, st.Update(ctx, "rooms", "missing", map[string]any{"name": "x"}), models.ErrNotFound)
	assert.ErrorIs(t, st.Delete(ctx, "rooms", "missing"), models.ErrNotFound)
}

func TestMemoryStoreServerTimestampMonotonic(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	// 連續寫入的伺服器時間戳必須嚴格遞增,排序才能跨客戶端一致
	var prev time.Time
	for i := 0; i < 10; i++ {
		id, err := st.Add(ctx, "messages", map[string]any{"createdAt": ServerTimestamp})
		require.NoError(t, err)
		doc, err := st.Get(ctx, "messages", id)
		require.NoError(t, err)
		ts := doc.Fields["createdAt"].(time.Time)
		assert.True(t, ts.After(prev), "時間戳必須嚴格遞增")
		prev = ts
	}
}

func TestMemoryStoreFindFilterAndOrder(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	_, err := st.Add(ctx, "messages", map[string]any{"roomId": "a", "text": "1", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	_, err = st.Add(ctx, "messages", map[string]any{"roomId": "b", "text": "x", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	_, err = st.Add(ctx, "messages", map[string]any{"roomId": "a", "text": "2", "createdAt": ServerTimestamp})
	require.NoError(t, err)

	snap, err := st.Find(ctx, Query{
		Collection: "messages",
		Filter:     map[string]any{"roomId": "a"},
		OrderBy:    "createdAt",
	})
	require.NoError(t, err)
	require.Len(t, snap, 2, "過濾條件應該只留下 a 房的訊息")
	assert.Equal(t, "1", snap[0].Fields["text"])
	assert.Equal(t, "2", snap[1].Fields["text"])
}

func TestMemoryStoreSubscribeDeliversInOrder(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	sub, err := st.Subscribe(ctx, Query{Collection: "rooms", OrderBy: "createdAt"})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 第一份快照是目前狀態(空的)
	snap := <-sub.Snapshots()
	assert.Empty(t, snap)

	_, err = st.Add(ctx, "rooms", map[string]any{"name": "one", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	snap = <-sub.Snapshots()
	require.Len(t, snap, 1)
	assert.Equal(t, "one", snap[0].Fields["name"])

	_, err = st.Add(ctx, "rooms", map[string]any{"name": "two", "createdAt": ServerTimestamp})
	require.NoError(t, err)
	snap = <-sub.Snapshots()
	require.Len(t, snap, 2)
	// createdAt 升序
	assert.Equal(t, "one", snap[0].Fields["name"])
	assert.Equal(t, "two", snap[1].Fields["name"])
}

func TestStringSlice(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, StringSlice([]string{"a", "b"}))
	assert.Equal(t, []string{"a", "b"}, StringSlice([]any{"a", "b"}), "MongoDB 解碼出的 []any 也要轉得回來")
	assert.Nil(t, StringSlice(nil))
	assert.Nil(t, StringSlice("not-a-slice"))
}
