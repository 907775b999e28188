package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// PostgresTweetRepo はPostgreSQLを使用したtweetsコレクションのリポジトリ。
type PostgresTweetRepo struct {
	db *sql.DB
}

// NewPostgresTweetRepo はPostgresTweetRepoを生成する。
func NewPostgresTweetRepo(db *sql.DB) *PostgresTweetRepo {
	return &PostgresTweetRepo{db: db}
}

// Create はツイートを作成する。IDが空の場合はULIDを採番する。
func (r *PostgresTweetRepo) Create(ctx context.Context, tweet *model.Tweet) error {
	if tweet.ID == "" {
		tweet.ID = newDocumentID()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tweets (id, author_uid, author_name, author_photo_url, body, date)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tweet.ID, tweet.AuthorUID, tweet.AuthorName, tweet.AuthorPhotoURL, tweet.Body, tweet.Date,
	)
	if err != nil {
		return fmt.Errorf("ツイートの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのツイートを削除する。存在しない場合もエラーにしない。
func (r *PostgresTweetRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM tweets WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("ツイートの削除に失敗しました: %w", err)
	}
	return nil
}

// ListOrderedByDate は全ツイートをdate降順で返す。
func (r *PostgresTweetRepo) ListOrderedByDate(ctx context.Context) ([]model.Tweet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, author_uid, author_name, author_photo_url, body, date
		 FROM tweets ORDER BY date DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("ツイート一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tweets := []model.Tweet{}
	for rows.Next() {
		var t model.Tweet
		if err := rows.Scan(&t.ID, &t.AuthorUID, &t.AuthorName, &t.AuthorPhotoURL, &t.Body, &t.Date); err != nil {
			return nil, fmt.Errorf("ツイート行の読み取りに失敗しました: %w", err)
		}
		tweets = append(tweets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ツイート一覧の走査に失敗しました: %w", err)
	}
	return tweets, nil
}

// compile-time interface check
var _ TweetRepository = (*PostgresTweetRepo)(nil)
