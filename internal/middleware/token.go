// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// TokenCookieName はベアラートークンを保持するCookie名。
const TokenCookieName = "session_token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	tokenContextKey  = contextKey("bearer_token")
)

// Authenticator はベアラートークンからユーザーを特定する。
// 認証できない場合は (nil, nil) を返す。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// TokenFromRequest はAuthorizationヘッダー、tokenクエリ、Cookieの順でベアラートークンを探す。
// ブラウザのWebSocket APIはヘッダーを付けられないため、クエリとCookieも受け付ける。
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if c, err := r.Cookie(TokenCookieName); err == nil {
		return c.Value
	}
	return ""
}

// NewTokenMiddleware はベアラートークンを読み取り、有効であればユーザーIDをコンテキストに注入する。
// トークンがない、または無効なリクエストもそのまま通す（サインイン前の接続を許すため）。
func NewTokenMiddleware(auth Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), tokenContextKey, token)
			user, err := auth.Authenticate(ctx, token)
			if err != nil {
				slog.Error("failed to authenticate token",
					slog.String("error", err.Error()),
				)
			}
			if user != nil {
				ctx = context.WithValue(ctx, userIDContextKey, user.ID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// トークンミドルウェアで認証できたリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// TokenFromContext はリクエストに付いていたベアラートークンを返す。検証済みとは限らない。
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
