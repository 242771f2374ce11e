package store

import (
	"context"
)

// serverTimestamp 是伺服器時間戳的標記型別
type serverTimestamp struct{}

// ServerTimestamp 放在欄位值的位置,寫入時由儲存端換成伺服器時鐘的當下時間
// 用伺服器時鐘而不是客戶端時鐘,才能在本地時間偏差的多個客戶端之間維持一致排序
var ServerTimestamp = serverTimestamp{}

// Document 代表儲存端的一份文件
type Document struct {
	ID     string
	Fields map[string]any
}

// Snapshot 是一次查詢當下所有符合條件文件的完整有序集合
// 儲存端每偵測到範圍內的任何變動(新增/更新/刪除),就會推送一份新的 Snapshot
type Snapshot []Document

// Query 描述一個訂閱或查詢的範圍
type Query struct {
	Collection string         // 集合名稱,例如 "rooms" 或 "messages"
	Filter     map[string]any // 欄位等值過濾條件,nil 表示不過濾
	OrderBy    string         // 升序排序欄位,空字串表示只按 ID 排序
}

// Subscription 代表一個進行中的訂閱
type Subscription interface {
	// Snapshots 回傳快照通道,同一訂閱內的快照依儲存端回報順序送達
	Snapshots() <-chan Snapshot
	// Errs 回傳錯誤通道,訂閱出錯時仍維持現狀(不會自動重連),由呼叫者決定處置
	Errs() <-chan error
	// Unsubscribe 立即終止訂閱,之後不會再有任何快照送達
	Unsubscribe()
}

// Store 是文件儲存端的邊界介面
// 時間戳由伺服器端指派,所有客戶端看到一致的排序
type Store interface {
	// Add 新增文件並回傳儲存端指派的 ID
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Get 以 ID 讀取單一文件,不存在時回傳 models.ErrNotFound
	Get(ctx context.Context, collection, id string) (Document, error)
	// Update 合併更新指定文件的欄位
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Delete 刪除指定文件
	Delete(ctx context.Context, collection, id string) error
	// Find 一次性查詢,回傳完整有序快照
	Find(ctx context.Context, q Query) (Snapshot, error)
	// Subscribe 建立訂閱,先送出目前狀態的快照,之後每次變動再各送一份
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}
