package identity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat/client/models"
)

// fakeController 記錄拆除與監聽通知的相對順序
type fakeController struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeController) TearDownAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "teardown")
}

func (f *fakeController) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeController) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestSessionInitialResolution(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)

	assert.False(t, s.Resolved(), "啟動時身分還沒解析")
	assert.Nil(t, s.Current())

	// 解析結果是未登入:resolved 翻為 true,不拆任何東西
	var got []*models.Identity
	s.OnChange(func(id *models.Identity) { got = append(got, id) })
	s.Set(nil)

	assert.True(t, s.Resolved())
	assert.Nil(t, s.Current())
	require.Len(t, got, 1)
	assert.Nil(t, got[0])
	assert.Empty(t, ctrl.log(), "未登入到未登入不需要拆訂閱")
}

func TestSessionSignIn(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)

	alice := models.Identity{ID: "user-1", DisplayName: "Alice"}
	s.Set(&alice)

	cur := s.Current()
	require.NotNil(t, cur)
	assert.Equal(t, "user-1", cur.ID)
	assert.Empty(t, ctrl.log(), "從未登入變登入不需要拆訂閱")

	// Current 回傳副本,呼叫端改不動內部狀態
	cur.DisplayName = "mutated"
	assert.Equal(t, "Alice", s.Current().DisplayName)
}

func TestSessionListenersGetCopies(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)

	// 監聽者拿到的也是副本,改了不影響內部狀態
	s.OnChange(func(id *models.Identity) {
		if id != nil {
			id.DisplayName = "mutated"
		}
	})
	s.Set(&models.Identity{ID: "user-1", DisplayName: "Alice"})
	assert.Equal(t, "Alice", s.Current().DisplayName)
}

func TestSessionSwitchTearsDownBeforeNotify(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)
	s.Set(&models.Identity{ID: "user-1", DisplayName: "Alice"})

	s.OnChange(func(id *models.Identity) {
		if id != nil {
			ctrl.record("notify:" + id.ID)
		} else {
			ctrl.record("notify:nil")
		}
	})

	// 換帳號:監聽者看到新身分時,舊帳號的訂閱必須已經拆光
	s.Set(&models.Identity{ID: "user-2", DisplayName: "Bob"})
	assert.Equal(t, []string{"teardown", "notify:user-2"}, ctrl.log())
	assert.Equal(t, "user-2", s.Current().ID)
}

func TestSessionSignOutTearsDownBeforeNotify(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)
	s.Set(&models.Identity{ID: "user-1", DisplayName: "Alice"})

	s.OnChange(func(id *models.Identity) {
		if id == nil {
			ctrl.record("notify:nil")
		}
	})

	s.Set(nil)
	assert.Equal(t, []string{"teardown", "notify:nil"}, ctrl.log())
	assert.Nil(t, s.Current())
	assert.True(t, s.Resolved())
}

func TestSessionSameIdentityNoTeardown(t *testing.T) {
	ctrl := &fakeController{}
	s := NewSession(ctrl)
	alice := models.Identity{ID: "user-1", DisplayName: "Alice"}
	s.Set(&alice)

	// 同一個帳號重新通知(例如 token 續期)不算切換
	refreshed := models.Identity{ID: "user-1", DisplayName: "Alice A."}
	s.Set(&refreshed)

	assert.Empty(t, ctrl.log())
	assert.Equal(t, "Alice A.", s.Current().DisplayName)
}
