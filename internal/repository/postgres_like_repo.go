package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// PostgresLikeRepo はPostgreSQLを使用したlikesコレクションのリポジトリ。
type PostgresLikeRepo struct {
	db *sql.DB
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db *sql.DB) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// FindByUserAndTweet はユーザーとツイートの組でいいねを検索する。見つからない場合はnilを返す。
func (r *PostgresLikeRepo) FindByUserAndTweet(ctx context.Context, userUID, tweetUID string) (*model.Like, error) {
	like := &model.Like{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_uid, tweet_uid FROM likes
		 WHERE user_uid = $1 AND tweet_uid = $2
		 LIMIT 1`,
		userUID, tweetUID,
	).Scan(&like.ID, &like.UserUID, &like.TweetUID)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("いいねの検索に失敗しました: %w", err)
	}
	return like, nil
}

// Create はいいねを作成する。IDが空の場合はULIDを採番する。
func (r *PostgresLikeRepo) Create(ctx context.Context, like *model.Like) error {
	if like.ID == "" {
		like.ID = newDocumentID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO likes (id, user_uid, tweet_uid) VALUES ($1, $2, $3)`,
		like.ID, like.UserUID, like.TweetUID,
	)
	if err != nil {
		return fmt.Errorf("いいねの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのいいねを削除する。
func (r *PostgresLikeRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM likes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}
	return nil
}

// ListByTweet は指定ツイートに紐づくいいねを返す。
func (r *PostgresLikeRepo) ListByTweet(ctx context.Context, tweetUID string) ([]model.Like, error) {
	return r.list(ctx,
		`SELECT id, user_uid, tweet_uid FROM likes WHERE tweet_uid = $1`,
		tweetUID,
	)
}

// ListAll は全いいねを返す。順序は保証しない。
func (r *PostgresLikeRepo) ListAll(ctx context.Context) ([]model.Like, error) {
	return r.list(ctx, `SELECT id, user_uid, tweet_uid FROM likes`)
}

func (r *PostgresLikeRepo) list(ctx context.Context, query string, args ...any) ([]model.Like, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("いいね一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	likes := []model.Like{}
	for rows.Next() {
		var l model.Like
		if err := rows.Scan(&l.ID, &l.UserUID, &l.TweetUID); err != nil {
			return nil, fmt.Errorf("いいね行の読み取りに失敗しました: %w", err)
		}
		likes = append(likes, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("いいね一覧の走査に失敗しました: %w", err)
	}
	return likes, nil
}

// compile-time interface check
var _ LikeRepository = (*PostgresLikeRepo)(nil)
