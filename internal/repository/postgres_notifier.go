package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// PostgresNotifier はLISTEN/NOTIFYでコレクションの変更を通知する。
// マイグレーションで作成したトリガーが "<collection>_changed" チャネルへNOTIFYする。
type PostgresNotifier struct {
	databaseURL string
}

// NewPostgresNotifier はPostgresNotifierを生成する。
func NewPostgresNotifier(databaseURL string) *PostgresNotifier {
	return &PostgresNotifier{databaseURL: databaseURL}
}

// Watch は指定コレクションの変更チャネルをLISTENし、変更ごとに値を送る。
// 再接続時は取りこぼしの可能性があるため、再同期のための通知も送る。
func (n *PostgresNotifier) Watch(ctx context.Context, collection string) (<-chan struct{}, error) {
	channel := collection + "_changed"

	listener := pq.NewListener(n.databaseURL, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				slog.Warn("change listener disconnected", slog.String("channel", channel), slog.Any("error", err))
			case pq.ListenerEventReconnected:
				slog.Info("change listener reconnected", slog.String("channel", channel))
			case pq.ListenerEventConnectionAttemptFailed:
				slog.Warn("change listener connection attempt failed", slog.String("channel", channel), slog.Any("error", err))
			}
		},
	)
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen %s: %w", channel, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer listener.Close()

		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Notify:
				// nilは再接続を表す。どちらの場合も全件を読み直させる。
				signal(out)
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					slog.Warn("change listener ping failed", slog.String("channel", channel), slog.Any("error", err))
				}
			}
		}
	}()

	return out, nil
}

// signal はバッファ1のチャネルへ合体させながら通知を送る。
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// NewPostgresStore はPostgreSQLバックエンドのStoreを組み立てる。
// databaseURLはLISTEN用の専用接続に使用する。
func NewPostgresStore(db *sql.DB, databaseURL string) *Store {
	return &Store{
		Driver:     "postgres",
		Users:      NewPostgresUserRepo(db),
		Identities: NewPostgresIdentityRepo(db),
		Sessions:   NewPostgresSessionRepo(db),
		Tweets:     NewPostgresTweetRepo(db),
		Likes:      NewPostgresLikeRepo(db),
		Changes:    NewPostgresNotifier(databaseURL),
		Health:     db,
		closeFn:    db.Close,
	}
}

// compile-time interface check
var _ ChangeNotifier = (*PostgresNotifier)(nil)
