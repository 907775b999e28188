package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Authenticator     middleware.Authenticator

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// UIブリッジ（WebSocket）
	Bridge http.Handler

	// ヘルスチェック
	Health      repository.Pinger
	StoreDriver string

	// Prometheusメトリクス。nilの場合は/metricsを公開しない
	Metrics http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Token → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewTokenMiddleware(deps.Authenticator))

	// --- 監視用ルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.Health, deps.StoreDriver))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		// OAuthフロー
		r.Route("/auth/google", func(r chi.Router) {
			r.Get("/login", authHandler.Login)
			r.Get("/callback", authHandler.Callback)
		})

		// UIブリッジ。コマンド単位のレート制限は接続内で行う
		r.Method(http.MethodGet, "/ws", deps.Bridge)
	})

	return r
}
