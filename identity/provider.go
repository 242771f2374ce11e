package identity

import (
	"context"

	"go-chat/client/models"
)

// Provider 是身分提供者的共用邊界
// 各提供者的登入方式不同(OAuth 授權碼、帳號密碼),登入入口由具體型別各自定義,
// 成功登入後一律透過 OnIdentityChange 通知
type Provider interface {
	// OnIdentityChange 註冊身分變動監聽者,登入成功傳入身分,登出傳入 nil
	OnIdentityChange(fn func(*models.Identity))
	// SignOut 登出目前身分
	SignOut(ctx context.Context) error
}

// notifier 是提供者共用的監聽者列表
type notifier struct {
	listeners []func(*models.Identity)
}

func (n *notifier) OnIdentityChange(fn func(*models.Identity)) {
	n.listeners = append(n.listeners, fn)
}

func (n *notifier) notify(id *models.Identity) {
	for _, fn := range n.listeners {
		fn(id)
	}
}
