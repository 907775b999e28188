package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// WriteErrorResponse はWebSocketのerrorイベントと同じ {code, message} 形式でHTTPエラーを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, bErr *model.BridgeError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(bErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
