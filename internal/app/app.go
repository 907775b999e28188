// Package app はサブコマンドごとの起動処理と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/tweetbridge/internal/auth"
	"github.com/hitoshi/tweetbridge/internal/bridge"
	"github.com/hitoshi/tweetbridge/internal/config"
	"github.com/hitoshi/tweetbridge/internal/database"
	"github.com/hitoshi/tweetbridge/internal/handler"
	"github.com/hitoshi/tweetbridge/internal/like"
	"github.com/hitoshi/tweetbridge/internal/logger"
	"github.com/hitoshi/tweetbridge/internal/metrics"
	"github.com/hitoshi/tweetbridge/internal/middleware"
	"github.com/hitoshi/tweetbridge/internal/repository"
	"github.com/hitoshi/tweetbridge/internal/tweet"
	"github.com/hitoshi/tweetbridge/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、ログレベルを反映する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		slog.Warn("ignoring LOG_LEVEL", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openStore はSTORE_DRIVERに応じたバックエンドへ接続し、リポジトリ一式を返す。
func openStore(ctx context.Context, cfg *config.Config) (*repository.Store, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		return repository.NewPostgresStore(db, cfg.DatabaseURL), nil

	case config.StoreDriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURL)
		if err != nil {
			return nil, err
		}
		slog.Info("mongo connection established",
			slog.String("database", cfg.MongoDatabase),
		)
		return repository.NewMongoStore(client, cfg.MongoDatabase), nil

	case config.StoreDriverMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return repository.NewMemoryBackedStore(repository.NewMemoryStore()), nil

	default:
		return nil, fmt.Errorf("unsupported store driver: %q", cfg.StoreDriver)
	}
}

// apiServer はserveモードで起動する部品一式。
type apiServer struct {
	http    *http.Server
	bridge  *bridge.Server
	limiter *middleware.RateLimiter
}

// newAPIServer は全依存関係をワイヤリングする。ライブハブはctxが終了するまで動く。
func newAPIServer(ctx context.Context, cfg *config.Config, store *repository.Store, reg *prometheus.Registry) (*apiServer, error) {
	collector := metrics.NewCollector(reg)

	// 1. 認証
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, store.Users, store.Identities, store.Sessions,
		auth.NewTokenIssuer(cfg.SessionSecret),
		auth.ServiceConfig{
			SessionMaxAge: cfg.SessionMaxAge,
			SignInTimeout: cfg.SignInTimeout,
			BaseURL:       cfg.BaseURL,
		},
	)

	// 2. ストアアダプタとライブハブ
	tweetService := tweet.NewService(store.Tweets, store.Likes, store.Changes, tweet.Config{
		MaxLength:  cfg.MaxTweetLength,
		DateFormat: cfg.DateFormat,
		Location:   cfg.DateTimezone,
	})
	likeService := like.NewService(store.Likes, store.Changes)
	tweetService.Hub().OnSnapshot = collector.RecordSnapshot
	likeService.Hub().OnSnapshot = collector.RecordSnapshot

	if err := tweetService.Start(ctx); err != nil {
		return nil, err
	}
	if err := likeService.Start(ctx); err != nil {
		return nil, err
	}

	// 3. UIブリッジ
	limiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimitCommands, cfg.RateLimitPosts))
	bridgeServer := bridge.NewServer(authService, tweetService, likeService, limiter, collector, bridge.Config{
		AllowedOrigin: cfg.CORSAllowedOrigin,
	})

	// 4. ルーター
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		Authenticator:     authService,
		AuthService:       authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		Bridge:      bridgeServer,
		Health:      store.Health,
		StoreDriver: store.Driver,
		Metrics:     metrics.Handler(reg),
	})

	// WebSocketは読み書きの期限を接続側で管理するため、WriteTimeoutは設定しない
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &apiServer{http: server, bridge: bridgeServer, limiter: limiter}, nil
}

// shutdown はHTTPサーバー、WebSocket接続、レートリミッターの順に停止する。
func (s *apiServer) shutdown(ctx context.Context) error {
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.bridge.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("bridge shutdown: %w", err))
	}
	s.limiter.Stop()
	return errors.Join(errs...)
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	hubCtx, cancelHubs := context.WithCancel(context.Background())
	defer cancelHubs()

	srv, err := newAPIServer(hubCtx, cfg, store, newRegistry())
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", srv.http.Addr))
		if err := srv.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// メンテナンスジョブを定期実行し、/healthと/metricsを公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Method(http.MethodGet, "/health", handler.NewHealthHandler(store.Health, store.Driver))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker http listen error", slog.String("error", err.Error()))
		}
	}()

	job := cleanup.NewCleanupJob(store.Tweets, store.Likes, store.Sessions, slog.Default(), collector)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
	)

	// ブロッキング。シグナル受信でctxが終了すると戻る
	job.Start(ctx, cfg.CleanupInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker shutdown failed: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はストアのスキーマを最新にする。
// PostgreSQLは未適用マイグレーションを順番に適用し、MongoDBはインデックスを作成する。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		slog.Info("running database migrations",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)
		version, err := database.RunMigrations(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))

	case config.StoreDriverMongo:
		client, err := database.ConnectMongo(ctx, cfg.MongoURL)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		if err := repository.EnsureMongoIndexes(ctx, client.Database(cfg.MongoDatabase)); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		slog.Info("mongo indexes ensured", slog.String("database", cfg.MongoDatabase))

	default:
		slog.Info("nothing to migrate", slog.String("store", cfg.StoreDriver))
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
