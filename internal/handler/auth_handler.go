// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/tweetbridge/internal/auth"
	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	LoginURL(state string) (string, bool)
	CompleteSignIn(ctx context.Context, params auth.CallbackParams) (*model.UserInfo, error)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieSecure  bool
	SessionMaxAge int // トークンCookieの有効期間（秒）
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
// サインインの開始はWebSocketのsignInコマンドで行い、ここではIdPとの往復だけを扱う。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// Login はsignInコマンドで発行されたstateに対応するGoogleの認証画面へリダイレクトする。
// GET /auth/google/login?state=xxx
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	url, ok := h.service.LoginURL(state)
	if !ok {
		slog.Warn("login requested with unknown state")
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidStateError())
		return
	}

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。結果はWebSocket側へも1回だけ届けられる。
// GET /auth/google/callback?code=xxx&state=yyy
// GET /auth/google/callback?error=access_denied&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.CallbackParams{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	info, err := h.service.CompleteSignIn(r.Context(), params)
	if err != nil {
		bErr := model.AsBridgeError(err, model.NewInternalError())
		status := http.StatusUnauthorized
		if bErr.Code == model.ErrCodeInvalidState {
			status = http.StatusBadRequest
		}
		renderCompletion(w, status, completionPage{Title: "サインインに失敗しました", Message: bErr.Message})
		return
	}

	// 以降のWebSocket接続でサインイン状態を復元できるようにする
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    info.Token,
		Path:     "/",
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	renderCompletion(w, http.StatusOK, completionPage{
		Title:   "サインインしました",
		Message: info.DisplayName + " としてサインインしました。このウィンドウを閉じてください。",
	})
}

type completionPage struct {
	Title   string
	Message string
}

var completionTemplate = template.Must(template.New("completion").Parse(`<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>{{.Title}}</title>
<style>body{font-family:sans-serif;margin:3em;text-align:center}</style></head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p></body>
</html>
`))

func renderCompletion(w http.ResponseWriter, status int, page completionPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := completionTemplate.Execute(w, page); err != nil {
		slog.Error("failed to render completion page", slog.String("error", err.Error()))
	}
}
