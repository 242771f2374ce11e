package models

import (
	"time"
)

// Message 代表一個聊天訊息
// 作者的名稱與頭像在發送當下複製到訊息上(快照語意),之後不會跟著使用者資料更新
type Message struct {
	ID                string     `bson:"_id,omitempty" json:"id,omitempty"`
	RoomID            string     `bson:"roomId" json:"roomId"` // 所屬聊天室 ID
	Text              string     `bson:"text" json:"text"`
	AuthorID          string     `bson:"authorId" json:"authorId"`
	AuthorDisplayName string     `bson:"authorDisplayName" json:"authorDisplayName"`
	AuthorAvatarURL   string     `bson:"authorAvatarUrl" json:"authorAvatarUrl"`
	CreatedAt         time.Time  `bson:"createdAt" json:"createdAt"` // 由儲存端指派,永不變更
	Edited            bool       `bson:"edited" json:"edited"`
	EditedAt          *time.Time `bson:"editedAt,omitempty" json:"editedAt,omitempty"`
}
