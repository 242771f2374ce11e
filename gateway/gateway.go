// Package gateway 是核心與介面層(Presentation Shell)之間的邊界
// 狀態更新經由 WebSocket 推給介面層,使用者意圖從同一條連線收回來
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"

	"go-chat/client/directory"
	"go-chat/client/identity"
	"go-chat/client/messagelog"
	"go-chat/client/models"
	"go-chat/client/presence"
	"go-chat/client/utils"
)

// Event 是推給介面層的狀態更新
type Event struct {
	Type     string           `json:"type"` // rooms | messages | presence | selection_invalidated | error
	Rooms    []models.Room    `json:"rooms,omitempty"`
	Messages []models.Message `json:"messages,omitempty"`
	RoomID   string           `json:"roomId,omitempty"`
	Online   []string         `json:"online,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Intent 是介面層傳回來的使用者意圖
type Intent struct {
	Type      string `json:"type"` // select | send | edit | delete | create | join | leave | delete_room | heartbeat
	RoomID    string `json:"roomId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	Text      string `json:"text,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Gateway 把核心的狀態串到 Hub,把介面層的意圖轉成核心操作
type Gateway struct {
	hub       *Hub
	sess      *identity.Session
	dir       *directory.Directory
	mlog      *messagelog.Log
	pres      *presence.Tracker
	local     *identity.LocalProvider
	google    *identity.GoogleProvider
	jwtSecret string

	mu          sync.Mutex
	watchCancel func()
}

// New 建立 Gateway 並掛上核心的狀態監聽
func New(hub *Hub, sess *identity.Session, dir *directory.Directory, mlog *messagelog.Log, pres *presence.Tracker, local *identity.LocalProvider, google *identity.GoogleProvider, jwtSecret string) *Gateway {
	g := &Gateway{hub: hub, sess: sess, dir: dir, mlog: mlog, pres: pres, local: local, google: google, jwtSecret: jwtSecret}

	dir.OnUpdate(func(rooms []models.Room) {
		g.hub.Broadcast(Event{Type: "rooms", Rooms: rooms})
	})
	dir.OnSelectionInvalidated(func(roomID string) {
		// 選取作廢:關掉訊息與在線狀態的訂閱,再通知介面層清畫面
		g.mlog.Close()
		g.stopPresenceWatch()
		g.hub.Broadcast(Event{Type: "selection_invalidated", RoomID: roomID})
	})
	mlog.OnUpdate(func(roomID string, msgs []models.Message) {
		g.hub.Broadcast(Event{Type: "messages", RoomID: roomID, Messages: msgs})
	})
	mlog.OnError(func(err error) {
		g.hub.Broadcast(Event{Type: "error", Error: err.Error()})
	})

	return g
}

// watchPresence 追蹤選取聊天室的在線狀態變動,上下線都推事件給介面層
// 同時間最多只追蹤一個聊天室,換房時先停掉上一個
func (g *Gateway) watchPresence(roomID string) {
	g.stopPresenceWatch()

	ctx, cancel := context.WithCancel(context.Background())
	events, stop := g.pres.Watch(ctx, roomID)

	g.mu.Lock()
	g.watchCancel = func() {
		cancel()
		stop()
	}
	g.mu.Unlock()

	go func() {
		for range events {
			online, err := g.pres.Online(ctx, roomID)
			if err != nil {
				log.Printf("Failed to list online users for room %s: %v", roomID, err)
				continue
			}
			g.hub.Broadcast(Event{Type: "presence", RoomID: roomID, Online: online})
		}
	}()
}

func (g *Gateway) stopPresenceWatch() {
	g.mu.Lock()
	cancel := g.watchCancel
	g.watchCancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// sendJSONError 統一發送 JSON 格式錯誤響應
func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	var errorResponse models.ErrorResponse
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	errorResponse.Message = message
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		log.Printf("Failed to write error response: %v", err)
	}
}

// statusFor 把核心錯誤分類對應到 HTTP 狀態碼
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAuth):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// HandleRegister 處理使用者註冊請求
func (g *Gateway) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("JSON decode error: %v", err)
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	ident, err := g.local.Register(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		sendJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User registered successfully",
		"id":      ident.ID,
	})
}

// HandleLogin 處理使用者登入請求
func (g *Gateway) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		log.Printf("JSON decode error: %v", err)
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	ident, token, err := g.local.SignIn(r.Context(), credentials.Email, credentials.Password)
	if err != nil {
		sendJSONError(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message":     "Login successful",
		"id":          ident.ID,
		"displayName": ident.DisplayName,
		"token":       token,
	})
}

// HandleGoogleLogin 把使用者導向 Google 的授權頁
func (g *Gateway) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, g.google.AuthURL("state-chat"), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback 處理 Google 授權完成後的回呼,換取身分並發 JWT
func (g *Gateway) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		sendJSONError(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	ident, err := g.google.SignIn(r.Context(), code)
	if err != nil {
		sendJSONError(w, err.Error(), statusFor(err))
		return
	}

	token, err := utils.GenerateJWT(ident.ID, ident.DisplayName, g.jwtSecret)
	if err != nil {
		sendJSONError(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message":     "Login successful",
		"id":          ident.ID,
		"displayName": ident.DisplayName,
		"avatarUrl":   ident.AvatarURL,
		"token":       token,
	})
}

// HandleConnections 處理 WebSocket 連線請求,需先通過 JWT 中介層
func (g *Gateway) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	client := &Client{
		hub:    g.hub,
		gw:     g,
		conn:   conn,
		send:   make(chan Event, 256),
		UserID: userID,
	}
	// 新連線先收到一份目前的聊天室清單
	// 要在註冊前排進佇列:註冊後 Hub 隨時可能因斷線關閉 send,往關閉的通道寫會 panic
	client.send <- Event{Type: "rooms", Rooms: g.dir.VisibleRooms()}
	client.hub.register <- client

	go client.writePump()
	client.readPump() // readPump 會在連線關閉時自動取消註冊
}

// handleIntent 執行介面層傳來的意圖,錯誤以 error 事件回給同一個客戶端
func (g *Gateway) handleIntent(c *Client, in Intent) {
	cur := g.sess.Current()
	if cur == nil {
		c.send <- Event{Type: "error", Error: "not signed in"}
		return
	}
	// 連線的 JWT 身分必須等於目前登入的身分,否則意圖會被記到別人頭上,
	// 作者限定與創建者限定的檢查也會用錯人
	if cur.ID != c.UserID {
		c.send <- Event{Type: "error", Error: "identity mismatch"}
		return
	}
	ctx := context.Background()

	var err error
	switch in.Type {
	case "create":
		var roomID string
		roomID, err = g.dir.Create(ctx, *cur, in.Name)
		if err == nil {
			// 建好自動選取
			g.dir.Select(roomID)
			if err = g.mlog.Open(ctx, roomID); err == nil {
				g.watchPresence(roomID)
			}
		}
	case "join":
		err = g.dir.Join(ctx, *cur, in.RoomID)
	case "leave":
		err = g.dir.Leave(ctx, *cur, in.RoomID)
		if err == nil {
			// 退出的同時下線,不用等心跳過期
			if perr := g.pres.Leave(ctx, in.RoomID, cur.ID); perr != nil {
				log.Printf("Failed to clear presence for user %s in room %s: %v", cur.ID, in.RoomID, perr)
			}
		}
	case "delete_room":
		err = g.dir.Delete(ctx, *cur, in.RoomID)
	case "select":
		room, ok := g.dir.Room(in.RoomID)
		if !ok {
			err = models.ErrNotFound
			break
		}
		if !room.HasMember(cur.ID) {
			err = models.ErrForbidden
			break
		}
		g.dir.Select(in.RoomID)
		if err = g.mlog.Open(ctx, in.RoomID); err == nil {
			g.watchPresence(in.RoomID)
		}
	case "send":
		_, err = g.mlog.Send(ctx, *cur, in.RoomID, in.Text)
	case "edit":
		err = g.mlog.Edit(ctx, *cur, in.MessageID, in.Text)
	case "delete":
		err = g.mlog.Delete(ctx, *cur, in.MessageID)
	case "heartbeat":
		err = g.pres.Heartbeat(ctx, in.RoomID, cur.ID)
		if err == nil {
			var online []string
			if online, err = g.pres.Online(ctx, in.RoomID); err == nil {
				g.hub.Broadcast(Event{Type: "presence", RoomID: in.RoomID, Online: online})
			}
		}
	default:
		err = models.ErrInvalidInput
	}

	if err != nil {
		log.Printf("Intent %s failed for user %s: %v", in.Type, c.UserID, err)
		c.send <- Event{Type: "error", RoomID: in.RoomID, Error: err.Error()}
	}
}
