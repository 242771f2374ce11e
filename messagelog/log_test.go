package messagelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat/client/bridge"
	"go-chat/client/models"
	"go-chat/client/store"
)

var (
	alice = models.Identity{ID: "user-1", DisplayName: "Alice", AvatarURL: "https://example.com/a.png"}
	bob   = models.Identity{ID: "user-2", DisplayName: "Bob"}
)

func newTestLog(t *testing.T) (*store.MemoryStore, *Log) {
	t.Helper()
	st := store.NewMemoryStore()
	br := bridge.New(st)
	t.Cleanup(br.Close)
	return st, New(st, br)
}

// waitMessages 等到本地訊息集合收斂到指定筆數
func waitMessages(t *testing.T, l *Log, n int) []models.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.State() == Live && len(l.Messages()) == n
	}, time.Second, 5*time.Millisecond, "訊息集合應該收斂到 %d 筆", n)
	return l.Messages()
}

func TestOpenAndClose(t *testing.T) {
	_, l := newTestLog(t)
	assert.Equal(t, Unsubscribed, l.State())

	require.NoError(t, l.Open(context.Background(), "room-1"))
	assert.Equal(t, "room-1", l.RoomID())
	waitMessages(t, l, 0)

	l.Close()
	assert.Equal(t, Unsubscribed, l.State())
	assert.Empty(t, l.RoomID())
	assert.Empty(t, l.Messages())
}

func TestSendRejectsEmptyText(t *testing.T) {
	_, l := newTestLog(t)
	for _, text := range []string{"", "   ", "\n"} {
		_, err := l.Send(context.Background(), alice, "room-1", text)
		assert.ErrorIs(t, err, models.ErrInvalidInput, "空白內容 %q 應該被拒絕", text)
	}
}

func TestSendAppendsInOrder(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	// 兩位使用者輪流發言,所有客戶端看到同一個順序
	_, err := l.Send(ctx, alice, "room-1", "hello")
	require.NoError(t, err)
	_, err = l.Send(ctx, bob, "room-1", "hi alice")
	require.NoError(t, err)
	_, err = l.Send(ctx, alice, "room-1", "how are you?")
	require.NoError(t, err)

	msgs := waitMessages(t, l, 3)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, "hi alice", msgs[1].Text)
	assert.Equal(t, "how are you?", msgs[2].Text)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt), "時間戳由儲存端指派且遞增")

	// 作者資訊在發送當下複製到訊息上
	assert.Equal(t, alice.ID, msgs[0].AuthorID)
	assert.Equal(t, "Alice", msgs[0].AuthorDisplayName)
	assert.Equal(t, alice.AvatarURL, msgs[0].AuthorAvatarURL)
	assert.Equal(t, bob.ID, msgs[1].AuthorID)
	assert.False(t, msgs[0].Edited)
	assert.Nil(t, msgs[0].EditedAt)
}

func TestSendScopedToOpenRoom(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	_, err := l.Send(ctx, alice, "room-1", "in room 1")
	require.NoError(t, err)
	_, err = l.Send(ctx, alice, "room-2", "in room 2")
	require.NoError(t, err)

	msgs := waitMessages(t, l, 1)
	assert.Equal(t, "in room 1", msgs[0].Text, "別的聊天室的訊息不應該出現在目前畫面")
}

func TestEditMessage(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	id, err := l.Send(ctx, alice, "room-1", "helo")
	require.NoError(t, err)
	waitMessages(t, l, 1)
	original := l.Messages()[0]

	require.NoError(t, l.Edit(ctx, alice, id, "hello"))
	require.Eventually(t, func() bool {
		return len(l.Messages()) == 1 && l.Messages()[0].Edited
	}, time.Second, 5*time.Millisecond)

	edited := l.Messages()[0]
	assert.Equal(t, "hello", edited.Text)
	assert.True(t, edited.Edited)
	require.NotNil(t, edited.EditedAt)
	assert.True(t, edited.EditedAt.After(edited.CreatedAt))
	// 編輯不動 createdAt,訊息不會因此換位置
	assert.Equal(t, original.CreatedAt, edited.CreatedAt)
}

func TestEditForbiddenForNonAuthor(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	id, err := l.Send(ctx, alice, "room-1", "mine")
	require.NoError(t, err)
	waitMessages(t, l, 1)

	assert.ErrorIs(t, l.Edit(ctx, bob, id, "hijacked"), models.ErrForbidden)
	assert.ErrorIs(t, l.Delete(ctx, bob, id), models.ErrForbidden)

	msgs := l.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "mine", msgs[0].Text, "被拒絕的操作不應該改變訊息")
}

func TestEditRejectsEmptyText(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	id, err := l.Send(ctx, alice, "room-1", "hello")
	require.NoError(t, err)
	waitMessages(t, l, 1)

	assert.ErrorIs(t, l.Edit(ctx, alice, id, "   "), models.ErrInvalidInput)
}

func TestEditUnknownMessage(t *testing.T) {
	_, l := newTestLog(t)
	assert.ErrorIs(t, l.Edit(context.Background(), alice, "missing", "x"), models.ErrNotFound)
	assert.ErrorIs(t, l.Delete(context.Background(), alice, "missing"), models.ErrNotFound)
}

func TestDeleteMessage(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()
	require.NoError(t, l.Open(ctx, "room-1"))

	id, err := l.Send(ctx, alice, "room-1", "typo")
	require.NoError(t, err)
	_, err = l.Send(ctx, alice, "room-1", "keep me")
	require.NoError(t, err)
	waitMessages(t, l, 2)

	require.NoError(t, l.Delete(ctx, alice, id))
	msgs := waitMessages(t, l, 1)
	assert.Equal(t, "keep me", msgs[0].Text)
}

func TestSwitchRoomLeavesNoResidue(t *testing.T) {
	_, l := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Open(ctx, "room-1"))
	_, err := l.Send(ctx, alice, "room-1", "old room")
	require.NoError(t, err)
	waitMessages(t, l, 1)

	// 換房:畫面立刻清空,舊房的訊息永遠不再出現
	require.NoError(t, l.Open(ctx, "room-2"))
	assert.Empty(t, l.Messages())
	waitMessages(t, l, 0)

	_, err = l.Send(ctx, alice, "room-2", "new room")
	require.NoError(t, err)
	msgs := waitMessages(t, l, 1)
	assert.Equal(t, "new room", msgs[0].Text)
	assert.Equal(t, "room-2", l.RoomID())
}

func TestSortTiesBrokenByID(t *testing.T) {
	// createdAt 相同的訊息用儲存端指派的 ID 當決勝,順序在所有客戶端一致
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msgs := []models.Message{
		{ID: "zzz", CreatedAt: ts, Text: "second"},
		{ID: "aaa", CreatedAt: ts, Text: "first"},
		{ID: "mmm", CreatedAt: ts.Add(-time.Second), Text: "earliest"},
	}
	sortMessages(msgs)
	assert.Equal(t, "earliest", msgs[0].Text)
	assert.Equal(t, "first", msgs[1].Text)
	assert.Equal(t, "second", msgs[2].Text)
}
