// Package directory 維護聊天室清單與成員集合,並追蹤目前選取的聊天室
//
// 可見性策略:開放探索(open discovery),所有聊天室對所有人可見,
// 但只有成員能選取;成員資格消失時選取會被作廢
package directory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go-chat/client/bridge"
	"go-chat/client/identity"
	"go-chat/client/models"
	"go-chat/client/store"
)

const (
	roomsCollection    = "rooms"
	messagesCollection = "messages"

	// Scope 是聊天室清單訂閱在橋接器上的範圍名稱
	Scope = "rooms"
)

// Directory 是聊天室清單的本地狀態
// 本地集合只被橋接器的套用迴圈寫入;讀取端(介面層)透過互斥鎖拿副本
type Directory struct {
	st   store.Store
	br   *bridge.Bridge
	sess *identity.Session

	mu            sync.Mutex
	rooms         []models.Room
	selected      string
	onUpdate      []func([]models.Room)
	onInvalidated []func(roomID string)
}

// New 建立聊天室目錄
func New(st store.Store, br *bridge.Bridge, sess *identity.Session) *Directory {
	return &Directory{st: st, br: br, sess: sess}
}

// Start 建立聊天室清單的訂閱,登入後呼叫
func (d *Directory) Start(ctx context.Context) error {
	q := store.Query{Collection: roomsCollection, OrderBy: "createdAt"}
	return d.br.Subscribe(ctx, Scope, q, d.apply, nil)
}

// Stop 解除訂閱並清空本地狀態
func (d *Directory) Stop() {
	d.br.TearDown(Scope)
	d.mu.Lock()
	d.rooms = nil
	d.selected = ""
	d.mu.Unlock()
}

// VisibleRooms 回傳目前所有聊天室(開放探索策略)
func (d *Directory) VisibleRooms() []models.Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Room(nil), d.rooms...)
}

// Room 以 ID 查本地狀態中的聊天室
func (d *Directory) Room(id string) (models.Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}

// Select 設定目前選取的聊天室
func (d *Directory) Select(roomID string) {
	d.mu.Lock()
	d.selected = roomID
	d.mu.Unlock()
}

// Selected 回傳目前選取的聊天室 ID,沒有選取時為空字串
func (d *Directory) Selected() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// OnUpdate 註冊聊天室清單變動的監聽者
func (d *Directory) OnUpdate(fn func([]models.Room)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onUpdate = append(d.onUpdate, fn)
}

// OnSelectionInvalidated 註冊選取作廢事件的監聽者
// 選取的聊天室被刪除、或目前身分不再是成員時觸發,介面層收到後要關閉訊息訂閱
func (d *Directory) OnSelectionInvalidated(fn func(roomID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onInvalidated = append(d.onInvalidated, fn)
}

// apply 在橋接器的套用迴圈上收到聊天室快照
func (d *Directory) apply(snap store.Snapshot) {
	rooms := make([]models.Room, 0, len(snap))
	for _, doc := range snap {
		rooms = append(rooms, roomFromDocument(doc))
	}

	cur := d.sess.Current()

	d.mu.Lock()
	d.rooms = rooms

	// 選取的聊天室消失或自己已不是成員,就作廢選取
	invalidated := ""
	if d.selected != "" {
		room, exists := findRoom(rooms, d.selected)
		member := exists && (cur == nil || room.HasMember(cur.ID))
		if !exists || !member {
			invalidated = d.selected
			d.selected = ""
		}
	}

	updateFns := append(([]func([]models.Room))(nil), d.onUpdate...)
	invalidatedFns := append(([]func(string))(nil), d.onInvalidated...)
	d.mu.Unlock()

	for _, fn := range updateFns {
		fn(append([]models.Room(nil), rooms...))
	}
	if invalidated != "" {
		for _, fn := range invalidatedFns {
			fn(invalidated)
		}
	}
}

// Create 建立新聊天室,建立者自動成為唯一成員
// 立刻回傳儲存端指派的 ID,讓呼叫者可以自動選取
func (d *Directory) Create(ctx context.Context, ident models.Identity, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: room name must not be empty", models.ErrInvalidInput)
	}

	return d.st.Add(ctx, roomsCollection, map[string]any{
		"name":        name,
		"description": "",
		"creatorId":   ident.ID,
		"members":     []string{ident.ID},
		"createdAt":   store.ServerTimestamp,
		"color":       models.RoomColors[rand.IntN(len(models.RoomColors))],
	})
}

// Join 把呼叫者加入成員集合,已是成員時為冪等的 no-op
func (d *Directory) Join(ctx context.Context, ident models.Identity, roomID string) error {
	doc, err := d.st.Get(ctx, roomsCollection, roomID)
	if err != nil {
		return err
	}

	members := store.StringSlice(doc.Fields["members"])
	for _, m := range members {
		if m == ident.ID {
			return nil // 已經是成員,不重複寫入
		}
	}

	return d.st.Update(ctx, roomsCollection, roomID, map[string]any{
		"members": append(members, ident.ID),
	})
}

// Leave 把呼叫者移出成員集合
// 介面層會對創建者隱藏退出按鈕,這裡仍防禦性地拒絕,創建者只能透過刪除聊天室離開
func (d *Directory) Leave(ctx context.Context, ident models.Identity, roomID string) error {
	doc, err := d.st.Get(ctx, roomsCollection, roomID)
	if err != nil {
		return err
	}

	if creator, _ := doc.Fields["creatorId"].(string); creator == ident.ID {
		return fmt.Errorf("%w: the creator cannot leave the room", models.ErrForbidden)
	}

	members := store.StringSlice(doc.Fields["members"])
	remaining := make([]string, 0, len(members))
	for _, m := range members {
		if m != ident.ID {
			remaining = append(remaining, m)
		}
	}

	return d.st.Update(ctx, roomsCollection, roomID, map[string]any{
		"members": remaining,
	})
}

// Delete 刪除聊天室,僅限創建者
// 先串聯刪除房內所有訊息再刪房間,不留孤兒訊息
func (d *Directory) Delete(ctx context.Context, ident models.Identity, roomID string) error {
	doc, err := d.st.Get(ctx, roomsCollection, roomID)
	if err != nil {
		return err
	}

	if creator, _ := doc.Fields["creatorId"].(string); creator != ident.ID {
		return fmt.Errorf("%w: only the creator can delete the room", models.ErrForbidden)
	}

	msgs, err := d.st.Find(ctx, store.Query{
		Collection: messagesCollection,
		Filter:     map[string]any{"roomId": roomID},
	})
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if err := d.st.Delete(ctx, messagesCollection, m.ID); err != nil {
			return err
		}
	}

	return d.st.Delete(ctx, roomsCollection, roomID)
}

func findRoom(rooms []models.Room, id string) (models.Room, bool) {
	for _, r := range rooms {
		if r.ID == id {
			return r, true
		}
	}
	return models.Room{}, false
}

// roomFromDocument 把儲存端文件轉成 Room
func roomFromDocument(doc store.Document) models.Room {
	name, _ := doc.Fields["name"].(string)
	description, _ := doc.Fields["description"].(string)
	creatorID, _ := doc.Fields["creatorId"].(string)
	color, _ := doc.Fields["color"].(string)
	room := models.Room{
		ID:          doc.ID,
		Name:        name,
		Description: description,
		CreatorID:   creatorID,
		Members:     store.StringSlice(doc.Fields["members"]),
		Color:       color,
	}
	if t, ok := doc.Fields["createdAt"].(time.Time); ok {
		room.CreatedAt = t
	}
	return room
}
