package models

import "errors"

// 錯誤分類:所有錯誤都回報給發起操作的呼叫者,先前的狀態保持不變
// 判斷時請用 errors.Is,各處會以 fmt.Errorf("%w: ...") 包裝補充細節
var (
	ErrInvalidInput = errors.New("invalid input")        // 空白名稱或內容,呼叫者修正後可重試
	ErrForbidden    = errors.New("forbidden")            // 權限不足(非作者編輯、創建者退出等)
	ErrNotFound     = errors.New("not found")            // 過期的 ID,例如聊天室已被刪除
	ErrTransient    = errors.New("transient store error") // 儲存端暫時無法連線,由呼叫者決定是否重試
	ErrAuth         = errors.New("authentication failed") // 登入失敗,狀態停留在未登入
)

// ErrorResponse 結構體用於返回 JSON 格式的錯誤訊息
type ErrorResponse struct {
	Message string `json:"message"`
}
