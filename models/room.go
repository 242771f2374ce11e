package models

import (
	"time"
)

// RoomColors 聊天室的固定配色清單,建立時隨機挑選一個
var RoomColors = []string{
	"bg-blue-500",
	"bg-purple-500",
	"bg-pink-500",
	"bg-green-500",
	"bg-yellow-500",
}

// Room 代表一個聊天室的元資料
type Room struct {
	ID          string    `bson:"_id,omitempty" json:"id,omitempty"`
	Name        string    `bson:"name" json:"name"`
	Description string    `bson:"description" json:"description"`
	CreatorID   string    `bson:"creatorId" json:"creatorId"`
	Members     []string  `bson:"members" json:"members"` // 成員的使用者 ID 列表,永遠包含 CreatorID
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	Color       string    `bson:"color" json:"color"` // 純裝飾用途
}

// HasMember 檢查使用者是否為聊天室成員
func (r *Room) HasMember(userID string) bool {
	for _, m := range r.Members {
		if m == userID {
			return true
		}
	}
	return false
}
