package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/session"
)

// conn は1つのUI接続。読み込みと書き込みはそれぞれ専用のゴルーチンが担い、
// 各コマンドは接続コンテキストに紐づく独立したタスクとして非同期に実行される。
type conn struct {
	id       string
	server   *Server
	ws       *websocket.Conn
	observer *session.Observer
	send     chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	// subMu は購読の張り替えと、購読からの送信を直列化する
	subMu       sync.Mutex
	generation  int
	unsubTweets func()
	unsubLikes  func()
}

func newConn(s *Server, ws *websocket.Conn, id string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:       id,
		server:   s,
		ws:       ws,
		observer: session.NewObserver(),
		send:     make(chan []byte, s.config.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// run は接続が閉じるまでブロックする。
func (c *conn) run(token string) {
	logger := slog.With(slog.String("conn_id", c.id))
	logger.Info("bridge connected")

	unsubscribe := c.observer.Subscribe(c.onTransition)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	if token != "" {
		c.restore(token)
	}

	c.readLoop()

	c.close()
	<-writerDone
	c.tasks.Wait()
	c.server.auth.CancelSignIn(c.id)
	unsubscribe()
	c.disarm()

	logger.Info("bridge disconnected")
}

// close は接続コンテキストを終了する。書き込みゴルーチンがcloseフレームを送ってソケットを閉じる。
func (c *conn) close() {
	c.cancel()
}

// restore は接続時のトークンからサインイン状態を復元する。
// 無効なトークンは黙って無視し、サインアウト状態のまま始める。
func (c *conn) restore(token string) {
	info, err := c.server.auth.Restore(c.ctx, token)
	if err != nil {
		slog.Warn("failed to restore session",
			slog.String("conn_id", c.id),
			slog.String("error", err.Error()),
		)
		return
	}
	if info != nil {
		c.observer.SignIn(info)
	}
}

func (c *conn) readLoop() {
	cfg := c.server.config
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				c.ctx.Err() == nil {
				slog.Info("bridge read error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		if messageType != websocket.TextMessage {
			c.emitError(model.NewInvalidCommandError("テキストフレームのみ受け付けます"))
			continue
		}

		env, err := decodeEnvelope(data)
		if err != nil {
			c.emitError(err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *conn) writeLoop() {
	cfg := c.server.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Info("bridge write error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emit は送信キューへイベントを積む。接続が閉じている場合は破棄する。
func (c *conn) emit(eventType string, payload any) {
	msg, err := encodeEvent(eventType, payload)
	if err != nil {
		slog.Error("failed to encode event",
			slog.String("conn_id", c.id),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	select {
	case c.send <- msg:
	case <-c.ctx.Done():
	}
}

// emitError はエラーをBridgeErrorに正規化して送出する。
func (c *conn) emitError(err error) {
	bErr := model.AsBridgeError(err, model.NewInternalError())
	if bErr.Code == model.ErrCodeInternal || bErr.Code == model.ErrCodeUnavailable {
		slog.Error("command failed",
			slog.String("conn_id", c.id),
			slog.String("code", bErr.Code),
			slog.String("error", err.Error()),
		)
	}
	c.server.metrics.RecordError(bErr.Code)
	c.emit(EventError, bErr)
}

// onTransition はセッション状態の変化をUIと購読に反映する。
// present: userInfoを送り、ツイートといいねの購読を張り直す。absent: 購読を解除する。
func (c *conn) onTransition(t session.Transition) {
	if !t.Present() {
		c.disarm()
		return
	}
	c.emit(EventUserInfo, t.User)
	c.arm()
}

// arm は購読を張り直す。接続あたりツイート・いいね各1本までで、
// 張り直すたびに新しい全件スナップショットが届く。
func (c *conn) arm() {
	c.subMu.Lock()
	c.disarmLocked()
	c.generation++
	gen := c.generation
	c.subMu.Unlock()

	unsubTweets := c.server.tweets.Subscribe(
		func(tweets []model.Tweet) {
			if tweets == nil {
				tweets = []model.Tweet{}
			}
			c.emitSnapshot(gen, EventTweets, tweets)
		},
		func(bErr *model.BridgeError) { c.emitSnapshotError(gen, bErr) },
	)
	unsubLikes := c.server.likes.Subscribe(
		func(likes []model.Like) {
			if likes == nil {
				likes = []model.Like{}
			}
			c.emitSnapshot(gen, EventLikes, likes)
		},
		func(bErr *model.BridgeError) { c.emitSnapshotError(gen, bErr) },
	)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.generation != gen {
		// 張り替え中に別の遷移が起きた
		unsubTweets()
		unsubLikes()
		return
	}
	c.unsubTweets = unsubTweets
	c.unsubLikes = unsubLikes
}

func (c *conn) disarm() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.disarmLocked()
	c.generation++
}

func (c *conn) disarmLocked() {
	if c.unsubTweets != nil {
		c.unsubTweets()
		c.unsubTweets = nil
	}
	if c.unsubLikes != nil {
		c.unsubLikes()
		c.unsubLikes = nil
	}
}

// emitSnapshot は現在の購読世代からの配信だけを送る。解除済みの購読の配信は捨てる。
func (c *conn) emitSnapshot(gen int, eventType string, payload any) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.generation != gen {
		return
	}
	c.emit(eventType, payload)
}

func (c *conn) emitSnapshotError(gen int, bErr *model.BridgeError) {
	c.subMu.Lock()
	current := c.generation == gen
	c.subMu.Unlock()
	if current {
		c.emitError(bErr)
	}
}

// authorize はサインイン中のユーザーのセッションがまだ有効かをストアで確かめる。
// 失効していればこの接続をサインアウト状態にしてunauthenticatedを返す。
func (c *conn) authorize(ctx context.Context) (*model.UserInfo, error) {
	user := c.observer.Current()
	if user == nil {
		return nil, model.NewUnauthenticatedError()
	}
	owner, err := c.server.auth.Authenticate(ctx, user.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to verify session: %v: %w", err, model.NewUnavailableError())
	}
	if owner == nil || owner.ID != user.UID {
		if c.observer.Revoke(user) {
			slog.Info("bridge session expired",
				slog.String("conn_id", c.id),
				slog.String("user_id", user.UID),
			)
		}
		return nil, model.NewUnauthenticatedError()
	}
	return user, nil
}

// dispatch はレート制限を確認し、コマンドを非同期タスクとして起動する。
func (c *conn) dispatch(env *Envelope) {
	handler, ok := commandHandlers[env.Type]
	if !ok {
		c.emitError(model.NewInvalidCommandError("未知のコマンド: " + env.Type))
		return
	}

	if !c.allow(env.Type) {
		c.emitError(model.NewRateLimitedError())
		return
	}

	c.tasks.Add(1)
	go func() {
		defer c.tasks.Done()
		start := time.Now()
		if err := handler(c, c.ctx, env); err != nil {
			if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
				return
			}
			c.emitError(err)
		}
		c.server.metrics.RecordCommand(env.Type, time.Since(start))
	}()
}

// allow はサインイン中のユーザー、未サインインなら接続単位でレート制限を確認する。
func (c *conn) allow(commandType string) bool {
	limiter := c.server.limiter
	if limiter == nil {
		return true
	}
	key := "conn:" + c.id
	if user := c.observer.Current(); user != nil {
		key = user.UID
	}
	if !limiter.Allow(key, middleware.LimitCommands) {
		return false
	}
	if commandType == CommandPost {
		return limiter.Allow(key, middleware.LimitPosts)
	}
	return true
}
