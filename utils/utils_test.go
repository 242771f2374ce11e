package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

func TestGenerateJWT(t *testing.T) {
	// 準備測試資料
	userID := "651f1f77bcf86cd799439011"
	displayName := "testuser"
	secret := "test-secret"

	// 執行要測試的函式
	tokenString, err := GenerateJWT(userID, displayName, secret)

	// 1. 斷言錯誤為 nil
	assert.NoError(t, err, "生成 JWT 不應該返回錯誤")

	// 2. 斷言 token 字串不為空
	assert.NotEmpty(t, tokenString, "生成的 JWT token 不應該是空的")

	// 3. 解析並驗證 token 內容
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		_, ok := token.Method.(*jwt.SigningMethodHMAC)
		assert.True(t, ok, "非預期的簽名演算法")
		return []byte(secret), nil
	})

	assert.NoError(t, err, "解析 JWT token 不應該返回錯誤")
	assert.True(t, token.Valid, "JWT token 應該是有效的")

	// 4. 驗證 token 的聲明 (Claims)
	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok, "無法讀取 JWT claims")

	assert.Equal(t, userID, claims["userId"], "userId claim 應該與原始 userID 相同")
	assert.Equal(t, displayName, claims["displayName"], "displayName claim 應該與原始名稱相同")

	// 驗證過期時間 (exp) 是否在未來
	exp, ok := claims["exp"].(float64)
	assert.True(t, ok, "exp claim 格式錯誤")
	assert.Greater(t, int64(exp), time.Now().Unix(), "過期時間應該在未來")
}

func TestGetUserIDFromToken(t *testing.T) {
	secret := "test-secret"
	tokenString, err := GenerateJWT("someone", "someone", secret)
	assert.NoError(t, err)

	userID, err := GetUserIDFromToken(tokenString, secret)
	assert.NoError(t, err, "合法 token 應該解析成功")
	assert.Equal(t, "someone", userID)

	// 用錯的密鑰應該解析失敗
	_, err = GetUserIDFromToken(tokenString, "wrong-secret")
	assert.Error(t, err, "錯誤密鑰簽出的 token 不應該通過驗證")
}
