package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-chat/client/models"
	"go-chat/client/store"
)

const testSecret = "test-jwt-secret"

func TestRegisterAndSignIn(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := NewLocalProvider(st, testSecret)

	ident, err := p.Register(ctx, "alice@example.com", "Alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, ident.ID)
	assert.Equal(t, "Alice", ident.DisplayName)

	// 密碼只存哈希
	doc, err := st.Get(ctx, usersCollection, ident.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", doc.Fields["password"], "密碼不能以明文儲存")

	var notified *models.Identity
	p.OnIdentityChange(func(id *models.Identity) { notified = id })

	got, token, err := p.SignIn(ctx, "alice@example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, ident.ID, got.ID)
	assert.NotEmpty(t, token)
	require.NotNil(t, notified, "登入成功要通知監聽者")
	assert.Equal(t, ident.ID, notified.ID)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(store.NewMemoryStore(), testSecret)

	_, err := p.Register(ctx, "", "Alice", "pw")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = p.Register(ctx, "alice@example.com", "  ", "pw")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = p.Register(ctx, "alice@example.com", "Alice", "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(store.NewMemoryStore(), testSecret)

	_, err := p.Register(ctx, "alice@example.com", "Alice", "pw1")
	require.NoError(t, err)
	_, err = p.Register(ctx, "alice@example.com", "Alice2", "pw2")
	assert.ErrorIs(t, err, models.ErrInvalidInput, "同一個 Email 不能註冊兩次")
}

func TestSignInWrongPassword(t *testing.T) {
	ctx := context.Background()
	p := NewLocalProvider(store.NewMemoryStore(), testSecret)

	_, err := p.Register(ctx, "alice@example.com", "Alice", "right")
	require.NoError(t, err)

	notified := false
	p.OnIdentityChange(func(*models.Identity) { notified = true })

	_, _, err = p.SignIn(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, models.ErrAuth)
	_, _, err = p.SignIn(ctx, "nobody@example.com", "right")
	assert.ErrorIs(t, err, models.ErrAuth)
	assert.False(t, notified, "登入失敗不通知,狀態停留在未登入")
}

func TestResume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := NewLocalProvider(st, testSecret)

	ident, err := p.Register(ctx, "alice@example.com", "Alice", "pw")
	require.NoError(t, err)
	_, token, err := p.SignIn(ctx, "alice@example.com", "pw")
	require.NoError(t, err)

	// 對應頁面重新整理:拿保存的 token 還原登入狀態
	resumed, err := p.Resume(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, resumed.ID)
	assert.Equal(t, "Alice", resumed.DisplayName)

	_, err = p.Resume(ctx, "not-a-token")
	assert.ErrorIs(t, err, models.ErrAuth)

	// 帳號被刪掉後 token 失效
	require.NoError(t, st.Delete(ctx, usersCollection, ident.ID))
	_, err = p.Resume(ctx, token)
	assert.ErrorIs(t, err, models.ErrAuth)
}

func TestSignOutNotifiesNil(t *testing.T) {
	p := NewLocalProvider(store.NewMemoryStore(), testSecret)

	called := false
	p.OnIdentityChange(func(id *models.Identity) {
		called = true
		assert.Nil(t, id)
	})
	require.NoError(t, p.SignOut(context.Background()))
	assert.True(t, called)
}
