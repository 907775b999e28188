package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// LimitKind はレート制限の種類。
type LimitKind int

const (
	// LimitCommands はWebSocketコマンド全般とHTTPリクエストの制限。
	LimitCommands LimitKind = iota
	// LimitPosts はツイート投稿の制限。コマンド全般とは独立に数える。
	LimitPosts
)

func (k LimitKind) String() string {
	switch k {
	case LimitPosts:
		return "posts"
	default:
		return "commands"
	}
}

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	CommandRate     rate.Limit    // コマンド全般のレート（req/sec）
	CommandBurst    int           // コマンド全般のバーストサイズ
	PostRate        rate.Limit    // 投稿のレート（req/sec）
	PostBurst       int           // 投稿のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// PerMinute は1分あたりの上限からRateLimiterConfigを組み立てる。
func PerMinute(commands, posts int) RateLimiterConfig {
	return RateLimiterConfig{
		CommandRate:     rate.Limit(float64(commands) / 60.0),
		CommandBurst:    commands,
		PostRate:        rate.Limit(float64(posts) / 60.0),
		PostBurst:       posts,
		CleanupInterval: 5 * time.Minute,
	}
}

// userLimiter はユーザーごとのレートリミッターとアクセス時刻を保持する。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type limiterSet struct {
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	limiters map[string]*userLimiter
}

func (s *limiterSet) allow(key string, now time.Time) bool {
	s.mu.Lock()
	ul, ok := s.limiters[key]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = ul
	}
	ul.lastAccess = now
	s.mu.Unlock()
	return ul.limiter.AllowN(now, 1)
}

func (s *limiterSet) sweep(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// RateLimiter はユーザーごとのレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig
	sets   map[LimitKind]*limiterSet
	stopCh chan struct{}
	once   sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	rl := &RateLimiter{
		config: config,
		sets: map[LimitKind]*limiterSet{
			LimitCommands: {rate: config.CommandRate, burst: config.CommandBurst, limiters: make(map[string]*userLimiter)},
			LimitPosts:    {rate: config.PostRate, burst: config.PostBurst, limiters: make(map[string]*userLimiter)},
		},
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// Allow はkeyに対してkind種別のトークンを1つ消費できるかを返す。
func (rl *RateLimiter) Allow(key string, kind LimitKind) bool {
	ok := rl.sets[kind].allow(key, time.Now())
	if !ok {
		slog.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("limit_type", kind.String()),
		)
	}
	return ok
}

// Middleware はHTTPリクエストをコマンド全般の枠で制限するミドルウェアを返す。
// 認証済みならユーザーID、未認証ならクライアントIPで数える。
func (rl *RateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := UserIDFromContext(r.Context())
			if err != nil {
				key = "ip:" + clientIP(r)
			}

			if !rl.Allow(key, LimitCommands) {
				writeRateLimitResponse(w, rl.config.CommandRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// LimiterCount は指定種別で現在管理されているエントリ数を返す。テスト用。
func (rl *RateLimiter) LimiterCount(kind LimitKind) int {
	return rl.sets[kind].len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍を超えたエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	ttl := rl.config.CleanupInterval * 2
	for _, s := range rl.sets {
		s.sweep(now, ttl)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitedError())
}
