package identity

import (
	"context"
	"fmt"
	"log"
	"strings"

	"go-chat/client/models"
	"go-chat/client/store"
	"go-chat/client/utils"

	"golang.org/x/crypto/bcrypt"
)

// usersCollection 本地帳號存放的集合
const usersCollection = "users"

// LocalProvider 以帳號密碼為基礎的身分提供者
// 使用者存在儲存端的 users 集合,密碼以 bcrypt 哈希後儲存,登入成功發 JWT 給前端保存
type LocalProvider struct {
	notifier
	st        store.Store
	jwtSecret string
}

// NewLocalProvider 建立本地帳號提供者
func NewLocalProvider(st store.Store, jwtSecret string) *LocalProvider {
	return &LocalProvider{st: st, jwtSecret: jwtSecret}
}

// Register 註冊新帳號
func (p *LocalProvider) Register(ctx context.Context, email, username, password string) (*models.Identity, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return nil, fmt.Errorf("%w: email, username, and password are required", models.ErrInvalidInput)
	}

	// 先檢查 Email,如果已註冊直接返回
	existing, err := p.st.Find(ctx, store.Query{Collection: usersCollection, Filter: map[string]any{"email": email}})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("%w: email already registered", models.ErrInvalidInput)
	}

	// 哈希密碼
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", models.ErrAuth, err)
	}

	id, err := p.st.Add(ctx, usersCollection, map[string]any{
		"email":       email,
		"displayName": username,
		"avatarUrl":   "",
		"password":    string(hashed), // 只存哈希,永遠不回傳給前端
	})
	if err != nil {
		return nil, err
	}

	log.Printf("User registered successfully: %s", id)
	return &models.Identity{ID: id, DisplayName: username}, nil
}

// SignIn 驗證帳號密碼,成功時通知監聽者並回傳身分與 session token
// 失敗不重試:錯誤回報給呼叫者,狀態停留在未登入
func (p *LocalProvider) SignIn(ctx context.Context, email, password string) (*models.Identity, string, error) {
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: email and password are required", models.ErrInvalidInput)
	}

	found, err := p.st.Find(ctx, store.Query{Collection: usersCollection, Filter: map[string]any{"email": email}})
	if err != nil {
		return nil, "", err
	}
	if len(found) == 0 {
		return nil, "", fmt.Errorf("%w: invalid credentials", models.ErrAuth)
	}
	doc := found[0]

	hashed, _ := doc.Fields["password"].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return nil, "", fmt.Errorf("%w: invalid credentials", models.ErrAuth)
	}

	ident := identityFromUserDoc(doc)
	token, err := utils.GenerateJWT(ident.ID, ident.DisplayName, p.jwtSecret)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", models.ErrAuth, err)
	}

	log.Printf("User logged in successfully: %s", email)
	p.notify(&ident)
	return &ident, token, nil
}

// Resume 用先前發出的 token 還原登入狀態(對應頁面重新整理)
func (p *LocalProvider) Resume(ctx context.Context, token string) (*models.Identity, error) {
	userID, err := utils.GetUserIDFromToken(token, p.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrAuth, err)
	}

	doc, err := p.st.Get(ctx, usersCollection, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: account no longer exists", models.ErrAuth)
	}

	ident := identityFromUserDoc(doc)
	p.notify(&ident)
	return &ident, nil
}

// SignOut 登出,通知監聽者清掉身分
func (p *LocalProvider) SignOut(ctx context.Context) error {
	p.notify(nil)
	return nil
}

func identityFromUserDoc(doc store.Document) models.Identity {
	name, _ := doc.Fields["displayName"].(string)
	avatar, _ := doc.Fields["avatarUrl"].(string)
	return models.Identity{ID: doc.ID, DisplayName: name, AvatarURL: avatar}
}
