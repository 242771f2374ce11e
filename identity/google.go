package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go-chat/client/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// userinfoEndpoint Google 的使用者資料端點,授權成功後用 access token 取得基本資料
const userinfoEndpoint = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProvider 以 Google OAuth2 授權碼流程為基礎的身分提供者
type GoogleProvider struct {
	notifier
	cfg *oauth2.Config
}

// NewGoogleProvider 建立 Google 提供者
func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
	}
}

// AuthURL 回傳讓使用者授權的跳轉網址
func (p *GoogleProvider) AuthURL(state string) string {
	return p.cfg.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// SignIn 用授權碼換取 token 並取得使用者資料
// 任一步失敗都回報 ErrAuth,狀態停留在未登入,不做重試
func (p *GoogleProvider) SignIn(ctx context.Context, code string) (*models.Identity, error) {
	token, err := p.cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: exchange code: %v", models.ErrAuth, err)
	}

	client := p.cfg.Client(ctx, token)
	resp, err := client.Get(userinfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch userinfo: %v", models.ErrAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo status %d", models.ErrAuth, resp.StatusCode)
	}

	var info struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", models.ErrAuth, err)
	}

	ident := models.Identity{ID: info.ID, DisplayName: info.Name, AvatarURL: info.Picture}
	p.notify(&ident)
	return &ident, nil
}

// SignOut 登出,通知監聽者清掉身分
func (p *GoogleProvider) SignOut(ctx context.Context) error {
	p.notify(nil)
	return nil
}
