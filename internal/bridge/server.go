package bridge

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitoshi/tweetbridge/internal/auth"
	"github.com/hitoshi/tweetbridge/internal/metrics"
	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/tweet"
)

// AuthService はブリッジが使う認証操作。
type AuthService interface {
	BeginSignIn(owner string) (*auth.PendingSignIn, error)
	CancelSignIn(owner string)
	Restore(ctx context.Context, token string) (*model.UserInfo, error)
	Authenticate(ctx context.Context, token string) (*model.User, error)
	SignOut(ctx context.Context, sessionID string) error
}

// TweetService はブリッジが使うツイート操作。
type TweetService interface {
	Post(ctx context.Context, author *model.UserInfo, body string) (*model.Tweet, error)
	Delete(ctx context.Context, id string) (tweet.CleanupReport, error)
	Subscribe(fn func([]model.Tweet), onErr func(*model.BridgeError)) (unsubscribe func())
}

// LikeService はブリッジが使ういいね操作。
type LikeService interface {
	Toggle(ctx context.Context, userUID, tweetUID string) (liked bool, err error)
	Subscribe(fn func([]model.Like), onErr func(*model.BridgeError)) (unsubscribe func())
}

// Limiter はユーザー単位のレート制限。
type Limiter interface {
	Allow(key string, kind middleware.LimitKind) bool
}

// Config はWebSocket接続の設定。
type Config struct {
	AllowedOrigin  string        // 許可するOriginヘッダー。空の場合は同一ホストのみ
	WriteTimeout   time.Duration // 1フレームの書き込み期限
	PongTimeout    time.Duration // pongを待つ期限
	PingInterval   time.Duration // ping送信間隔。PongTimeoutより短くする
	MaxMessageSize int64         // 受信フレームの最大サイズ
	SendBuffer     int           // 送信キューの長さ
	SignOutTimeout time.Duration // サインアウト時のセッション削除の期限
}

func (c *Config) setDefaults() {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	if c.SignOutTimeout <= 0 {
		c.SignOutTimeout = 10 * time.Second
	}
}

// Server はWebSocketのUIブリッジ。接続ごとにconnを生成してコマンドを処理する。
type Server struct {
	auth     AuthService
	tweets   TweetService
	likes    LikeService
	limiter  Limiter
	metrics  metrics.Recorder
	config   Config
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer はServerを生成する。limiterとrecorderはnilでもよい。
func NewServer(
	authService AuthService,
	tweets TweetService,
	likes LikeService,
	limiter Limiter,
	recorder metrics.Recorder,
	config Config,
) *Server {
	config.setDefaults()
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	s := &Server{
		auth:    authService,
		tweets:  tweets,
		likes:   likes,
		limiter: limiter,
		metrics: recorder,
		config:  config,
		conns:   make(map[*conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// checkOrigin は設定されたOrigin、または同一ホストからの接続のみ許可する。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.config.AllowedOrigin != "" && origin == s.config.AllowedOrigin {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// ServeHTTP はWebSocketへアップグレードし、接続が閉じるまでブロックする。
// リクエストに有効なベアラートークンがあればサインイン済みの状態で開始する。
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUnavailableError())
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		slog.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newConn(s, ws, uuid.NewString())
	s.track(c)
	defer s.untrack(c)

	c.run(middleware.TokenFromRequest(r))
}

// Shutdown は全接続を閉じ、処理中のコマンドの終了を待つ。
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// revokeSession は指定セッションでサインインしている全接続をサインアウト状態にする。
// exceptの接続は呼び出し側で遷移済みのため対象外。
func (s *Server) revokeSession(sessionID string, except *conn) int {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if c != except {
			conns = append(conns, c)
		}
	}
	s.mu.Unlock()

	revoked := 0
	for _, c := range conns {
		user := c.observer.Current()
		if user == nil || user.SessionID != sessionID {
			continue
		}
		if c.observer.Revoke(user) {
			revoked++
		}
	}
	return revoked
}

// Connections は現在の接続数を返す。
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(c *conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.ConnectionOpened()
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.metrics.ConnectionClosed()
}
