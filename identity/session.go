// Package identity 追蹤目前登入身分的生命週期:未登入 → 已登入 → 未登入
package identity

import (
	"sync"

	"go-chat/client/models"
)

// SubscriptionController 是切換身分時需要被同步拆除的訂閱擁有者
// 由 bridge.Bridge 實作,用介面隔開避免循環依賴
type SubscriptionController interface {
	TearDownAll()
}

// Listener 收到每一次身分轉換,包含啟動時的第一次解析結果(可能是 nil 表示未登入)
type Listener func(*models.Identity)

// Session 持有目前已驗證的身分
// 身分由外部提供者透過 Set 推入;本身不做任何重試,登入失敗由提供者回報給呼叫者
type Session struct {
	ctrl SubscriptionController

	mu        sync.Mutex
	current   *models.Identity
	resolved  bool
	listeners []Listener
}

// NewSession 建立一個尚未解析的 Session
func NewSession(ctrl SubscriptionController) *Session {
	return &Session{ctrl: ctrl}
}

// Current 回傳目前身分,未登入時為 nil
func (s *Session) Current() *models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Resolved 回傳啟動時的身分解析是否已完成
func (s *Session) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

// OnChange 註冊身分轉換的監聽者
func (s *Session) OnChange(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Set 套用一次身分轉換,是提供者通知的唯一入口
// 登出或換帳號時,先同步拆掉所有訂閱,監聽者看到新狀態時舊訂閱已不存在
func (s *Session) Set(id *models.Identity) {
	s.mu.Lock()
	prev := s.current
	switched := prev != nil && (id == nil || id.ID != prev.ID)
	if id == nil {
		s.current = nil
	} else {
		cp := *id
		s.current = &cp
	}
	s.resolved = true
	listeners := append([]Listener(nil), s.listeners...)
	// 給監聽者的也是副本,跟 Current 一樣,誰都改不到內部狀態
	var notify *models.Identity
	if s.current != nil {
		n := *s.current
		notify = &n
	}
	s.mu.Unlock()

	if switched {
		s.ctrl.TearDownAll()
	}

	for _, fn := range listeners {
		fn(notify)
	}
}
