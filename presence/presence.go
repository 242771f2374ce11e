// Package presence 用 Redis 追蹤聊天室內的在線成員
// 心跳鍵帶 TTL,斷線的客戶端過期後自動消失;變動透過 pub/sub 推給訂閱的介面層
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go-chat/client/models"

	"github.com/redis/go-redis/v9"
)

const (
	// heartbeatTTL 心跳鍵的存活時間,客戶端應以大約三分之一的週期續約
	heartbeatTTL = 30 * time.Second
)

// Event 是一次在線狀態變動
type Event struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Tracker 管理在線狀態的讀寫
type Tracker struct {
	rdb *redis.Client
}

// NewTracker 建立在線狀態追蹤器
func NewTracker(rdb *redis.Client) *Tracker {
	return &Tracker{rdb: rdb}
}

func heartbeatKey(roomID, userID string) string {
	return fmt.Sprintf("presence:%s:%s", roomID, userID)
}

func channelName(roomID string) string {
	return "presence:" + roomID
}

// Heartbeat 續約一次在線心跳,第一次心跳同時廣播上線事件
func (t *Tracker) Heartbeat(ctx context.Context, roomID, userID string) error {
	created, err := t.rdb.SetNX(ctx, heartbeatKey(roomID, userID), "1", heartbeatTTL).Result()
	if err != nil {
		return fmt.Errorf("%w: presence heartbeat: %v", models.ErrTransient, err)
	}
	if !created {
		// 已在線,只延長 TTL
		if err := t.rdb.Expire(ctx, heartbeatKey(roomID, userID), heartbeatTTL).Err(); err != nil {
			return fmt.Errorf("%w: presence heartbeat: %v", models.ErrTransient, err)
		}
		return nil
	}
	return t.publish(ctx, roomID, userID, true)
}

// Leave 主動下線並廣播離線事件
func (t *Tracker) Leave(ctx context.Context, roomID, userID string) error {
	if err := t.rdb.Del(ctx, heartbeatKey(roomID, userID)).Err(); err != nil {
		return fmt.Errorf("%w: presence leave: %v", models.ErrTransient, err)
	}
	return t.publish(ctx, roomID, userID, false)
}

// Online 列出聊天室目前的在線使用者 ID
func (t *Tracker) Online(ctx context.Context, roomID string) ([]string, error) {
	prefix := fmt.Sprintf("presence:%s:", roomID)
	var users []string
	iter := t.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		users = append(users, strings.TrimPrefix(iter.Val(), prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: presence scan: %v", models.ErrTransient, err)
	}
	return users, nil
}

// Watch 訂閱聊天室的在線狀態變動,回傳事件通道與取消函式
func (t *Tracker) Watch(ctx context.Context, roomID string) (<-chan Event, func()) {
	sub := t.rdb.Subscribe(ctx, channelName(roomID))
	out := make(chan Event)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var ev Event
			// 格式:userID|1 或 userID|0
			parts := strings.SplitN(msg.Payload, "|", 2)
			if len(parts) != 2 {
				continue
			}
			ev = Event{RoomID: roomID, UserID: parts[0], Online: parts[1] == "1"}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { sub.Close() }
}

func (t *Tracker) publish(ctx context.Context, roomID, userID string, online bool) error {
	payload := userID + "|0"
	if online {
		payload = userID + "|1"
	}
	if err := t.rdb.Publish(ctx, channelName(roomID), payload).Err(); err != nil {
		return fmt.Errorf("%w: presence publish: %v", models.ErrTransient, err)
	}
	return nil
}
