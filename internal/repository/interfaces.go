// Package repository はデータ永続化のインターフェースと、
// PostgreSQL・MongoDB・インメモリの各実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// UpdateProfile はIdPから取得した最新のプロフィールでユーザーを更新する。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TweetRepository はtweetsコレクションの永続化インターフェース。
type TweetRepository interface {
	// Create はツイートを作成する。IDが空の場合はストア側で採番し、tweet.IDに設定する。
	Create(ctx context.Context, tweet *model.Tweet) error

	// Delete は指定IDのツイートを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error

	// ListOrderedByDate は全ツイートをdate降順（同値はID降順）で返す。
	ListOrderedByDate(ctx context.Context) ([]model.Tweet, error)
}

// LikeRepository はlikesコレクションの永続化インターフェース。
type LikeRepository interface {
	// FindByUserAndTweet はユーザーとツイートの組でいいねを検索する。
	// 見つからない場合はnilを返す。複数存在する場合はいずれか1件を返す。
	FindByUserAndTweet(ctx context.Context, userUID, tweetUID string) (*model.Like, error)

	// Create はいいねを作成する。IDが空の場合はストア側で採番する。
	Create(ctx context.Context, like *model.Like) error

	// Delete は指定IDのいいねを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, id string) error

	// ListByTweet は指定ツイートに紐づくいいねを全て返す。
	ListByTweet(ctx context.Context, tweetUID string) ([]model.Like, error)

	// ListAll は全いいねをストア固有の順序で返す。
	ListAll(ctx context.Context) ([]model.Like, error)
}

// ChangeNotifier はコレクションの変更通知を提供する。
type ChangeNotifier interface {
	// Watch は指定コレクションに変更があるたびに値を送るチャネルを返す。
	// 通知は合体されることがあり、1回の受信が複数の変更を表す場合がある。
	// ctxがキャンセルされるとチャネルは閉じられる。
	Watch(ctx context.Context, collection string) (<-chan struct{}, error)
}

// Pinger はストアの疎通確認インターフェース。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Store は1つのバックエンドに対するリポジトリ一式を束ねる。
type Store struct {
	Driver     string
	Users      UserRepository
	Identities IdentityRepository
	Sessions   SessionRepository
	Tweets     TweetRepository
	Likes      LikeRepository
	Changes    ChangeNotifier
	Health     Pinger

	closeFn func() error
}

// Close はバックエンドへの接続を閉じる。
func (s *Store) Close() error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn()
}
