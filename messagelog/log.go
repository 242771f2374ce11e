// Package messagelog 維護目前選取聊天室的即時有序訊息集合
package messagelog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-chat/client/bridge"
	"go-chat/client/models"
	"go-chat/client/store"
)

const (
	messagesCollection = "messages"

	// Scope 是訊息訂閱在橋接器上的範圍名稱
	Scope = "messages"
)

// SubscriptionState 是訊息訂閱的狀態機
// Unsubscribed -> Subscribing -> Live -> Unsubscribed
// 訂閱出錯時不進入錯誤狀態:錯誤交給監聽者,停留在 Live 並保留舊資料
type SubscriptionState int

const (
	Unsubscribed SubscriptionState = iota
	Subscribing
	Live
)

// Log 是單一聊天室訊息集合的本地狀態
// 寫入者只有橋接器的套用迴圈,讀取端透過互斥鎖拿副本
type Log struct {
	st store.Store
	br *bridge.Bridge

	mu       sync.Mutex
	roomID   string
	state    SubscriptionState
	messages []models.Message
	onUpdate []func(roomID string, msgs []models.Message)
	onError  []func(error)
}

// New 建立訊息記錄
func New(st store.Store, br *bridge.Bridge) *Log {
	return &Log{st: st, br: br}
}

// Open 切換到指定聊天室的訊息訂閱
// 橋接器保證先完整解除上一個聊天室的訂閱才建立新的;
// 被取代訂閱在途中的快照帶著過期世代,到達時會被丟棄,不會滲進新聊天室的畫面
func (l *Log) Open(ctx context.Context, roomID string) error {
	l.mu.Lock()
	l.roomID = roomID
	l.state = Subscribing
	l.messages = nil
	l.mu.Unlock()

	q := store.Query{
		Collection: messagesCollection,
		Filter:     map[string]any{"roomId": roomID},
		OrderBy:    "createdAt",
	}
	err := l.br.Subscribe(ctx, Scope, q, func(snap store.Snapshot) {
		l.applyFor(roomID, snap)
	}, l.fail)
	if err != nil {
		l.mu.Lock()
		l.state = Unsubscribed
		l.roomID = ""
		l.mu.Unlock()
		return err
	}
	return nil
}

// Close 解除訊息訂閱並清空本地集合
func (l *Log) Close() {
	l.br.TearDown(Scope)
	l.mu.Lock()
	l.roomID = ""
	l.state = Unsubscribed
	l.messages = nil
	l.mu.Unlock()
}

// State 回傳目前的訂閱狀態
func (l *Log) State() SubscriptionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// RoomID 回傳目前開啟的聊天室 ID
func (l *Log) RoomID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}

// Messages 回傳目前的有序訊息集合副本
func (l *Log) Messages() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Message(nil), l.messages...)
}

// OnUpdate 註冊訊息集合變動的監聽者
func (l *Log) OnUpdate(fn func(roomID string, msgs []models.Message)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onUpdate = append(l.onUpdate, fn)
}

// OnError 註冊訂閱錯誤的監聽者
func (l *Log) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = append(l.onError, fn)
}

// applyFor 在橋接器的套用迴圈上收到快照
// roomID 是建立訂閱當下的聊天室:Open 已換房但訂閱還沒換好的空窗期,舊房快照在此擋下
func (l *Log) applyFor(roomID string, snap store.Snapshot) {
	msgs := make([]models.Message, 0, len(snap))
	for _, doc := range snap {
		msgs = append(msgs, messageFromDocument(doc))
	}
	sortMessages(msgs)

	l.mu.Lock()
	if l.roomID != roomID {
		l.mu.Unlock()
		return
	}
	l.messages = msgs
	l.state = Live
	updateFns := append(([]func(string, []models.Message))(nil), l.onUpdate...)
	l.mu.Unlock()

	for _, fn := range updateFns {
		fn(roomID, append([]models.Message(nil), msgs...))
	}
}

func (l *Log) fail(err error) {
	l.mu.Lock()
	fns := append(([]func(error))(nil), l.onError...)
	l.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Send 發送訊息到指定聊天室
// 作者名稱與頭像在這裡複製到訊息上(快照語意);時間戳由儲存端的伺服器時鐘指派
func (l *Log) Send(ctx context.Context, ident models.Identity, roomID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: message text must not be empty", models.ErrInvalidInput)
	}

	return l.st.Add(ctx, messagesCollection, map[string]any{
		"roomId":            roomID,
		"text":              text,
		"authorId":          ident.ID,
		"authorDisplayName": ident.DisplayName,
		"authorAvatarUrl":   ident.AvatarURL,
		"createdAt":         store.ServerTimestamp,
		"edited":            false,
	})
}

// Edit 修改自己的訊息內容,createdAt 不變,edited 翻為 true 並記錄 editedAt
func (l *Log) Edit(ctx context.Context, ident models.Identity, messageID, newText string) error {
	if strings.TrimSpace(newText) == "" {
		return fmt.Errorf("%w: message text must not be empty", models.ErrInvalidInput)
	}

	authorID, err := l.authorOf(ctx, messageID)
	if err != nil {
		return err
	}
	if authorID != ident.ID {
		return fmt.Errorf("%w: only the author can edit a message", models.ErrForbidden)
	}

	return l.st.Update(ctx, messagesCollection, messageID, map[string]any{
		"text":     newText,
		"edited":   true,
		"editedAt": store.ServerTimestamp,
	})
}

// Delete 刪除自己的訊息
func (l *Log) Delete(ctx context.Context, ident models.Identity, messageID string) error {
	authorID, err := l.authorOf(ctx, messageID)
	if err != nil {
		return err
	}
	if authorID != ident.ID {
		return fmt.Errorf("%w: only the author can delete a message", models.ErrForbidden)
	}

	return l.st.Delete(ctx, messagesCollection, messageID)
}

// authorOf 查訊息的作者,優先用本地快照,不在目前畫面時回儲存端查
func (l *Log) authorOf(ctx context.Context, messageID string) (string, error) {
	l.mu.Lock()
	for _, m := range l.messages {
		if m.ID == messageID {
			l.mu.Unlock()
			return m.AuthorID, nil
		}
	}
	l.mu.Unlock()

	doc, err := l.st.Get(ctx, messagesCollection, messageID)
	if err != nil {
		return "", err
	}
	authorID, _ := doc.Fields["authorId"].(string)
	return authorID, nil
}

// sortMessages 依 createdAt 升序排列,同值用儲存端指派的 ID 決定順序
func sortMessages(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// messageFromDocument 把儲存端文件轉成 Message
func messageFromDocument(doc store.Document) models.Message {
	text, _ := doc.Fields["text"].(string)
	roomID, _ := doc.Fields["roomId"].(string)
	authorID, _ := doc.Fields["authorId"].(string)
	authorName, _ := doc.Fields["authorDisplayName"].(string)
	authorAvatar, _ := doc.Fields["authorAvatarUrl"].(string)
	edited, _ := doc.Fields["edited"].(bool)

	msg := models.Message{
		ID:                doc.ID,
		RoomID:            roomID,
		Text:              text,
		AuthorID:          authorID,
		AuthorDisplayName: authorName,
		AuthorAvatarURL:   authorAvatar,
		Edited:            edited,
	}
	if t, ok := doc.Fields["createdAt"].(time.Time); ok {
		msg.CreatedAt = t
	}
	if t, ok := doc.Fields["editedAt"].(time.Time); ok {
		msg.EditedAt = &t
	}
	return msg
}
