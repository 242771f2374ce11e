package models

// Identity 代表目前登入的使用者身分
// 由外部身分提供者(Google OAuth 或本地帳號)發出,本系統不負責持久化
type Identity struct {
	ID          string `bson:"_id,omitempty" json:"id"`   // 提供者發出的唯一 ID,登入期間不變
	DisplayName string `bson:"displayName" json:"displayName"` // 顯示名稱
	AvatarURL   string `bson:"avatarUrl" json:"avatarUrl"`     // 頭像網址
}
