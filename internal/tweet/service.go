// Package tweet はtweetsコレクションへの投稿、削除、ライブ購読を提供する。
package tweet

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/tweetbridge/internal/live"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/repository"
	"github.com/hitoshi/tweetbridge/internal/security"
)

// Config はツイートサービスの設定。
type Config struct {
	MaxLength  int            // 本文の最大文字数（rune単位）
	DateFormat string         // formatedDateのレイアウト
	Location   *time.Location // formatedDateのタイムゾーン
	Now        func() time.Time
}

// CleanupReport はツイート削除に伴う関連いいね削除の結果。
type CleanupReport struct {
	Attempted int
	Removed   int
	Failed    int
}

// Service はツイートのビジネスロジックを提供する。
type Service struct {
	tweets    repository.TweetRepository
	likes     repository.LikeRepository
	sanitizer *security.TextSanitizer
	hub       *live.Hub[model.Tweet]
	config    Config
}

// NewService はServiceを生成する。購読の配信はStartを呼ぶまで始まらない。
func NewService(
	tweets repository.TweetRepository,
	likes repository.LikeRepository,
	notifier repository.ChangeNotifier,
	config Config,
) *Service {
	if config.MaxLength <= 0 {
		config.MaxLength = 280
	}
	if config.DateFormat == "" {
		config.DateFormat = "2006/01/02 15:04:05"
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	s := &Service{
		tweets:    tweets,
		likes:     likes,
		sanitizer: security.NewTextSanitizer(),
		config:    config,
	}
	s.hub = live.NewHub[model.Tweet](model.CollectionTweets, s.loadFormatted, notifier)
	return s
}

// Hub はtweetsコレクションのライブハブを返す。
func (s *Service) Hub() *live.Hub[model.Tweet] { return s.hub }

// Start はtweetsコレクションの変更監視を開始する。
func (s *Service) Start(ctx context.Context) error {
	return s.hub.Start(ctx)
}

// Post は現在時刻を刻印したツイートを作成する。
// 著者情報はサインイン中のユーザーから取る。成功時の応答はなく、購読の再配信で反映される。
func (s *Service) Post(ctx context.Context, author *model.UserInfo, body string) (*model.Tweet, error) {
	if author == nil {
		return nil, model.NewUnauthenticatedError()
	}

	clean := s.sanitizer.Sanitize(body)
	if strings.TrimSpace(clean) == "" {
		return nil, model.NewInvalidArgumentError("本文が空です")
	}
	if n := utf8.RuneCountInString(clean); n > s.config.MaxLength {
		return nil, model.NewInvalidArgumentError(
			fmt.Sprintf("本文は%d文字以内で入力してください（%d文字）", s.config.MaxLength, n))
	}

	t := &model.Tweet{
		AuthorUID:      author.UID,
		AuthorName:     author.DisplayName,
		AuthorPhotoURL: author.PhotoURLOrEmpty(),
		Body:           clean,
		Date:           s.config.Now().UnixMilli(),
	}
	if err := s.tweets.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}

	slog.Info("tweet posted",
		slog.String("tweet_id", t.ID),
		slog.String("user_id", author.UID),
		slog.Bool("contains_markup", s.sanitizer.ContainsMarkup(clean)),
	)
	return t, nil
}

// Delete はツイートを削除し、続けて関連するいいねを1件ずつ削除する。
// 複数ドキュメントにまたがる処理はアトミックではない。
// 関連いいねの削除に1件でも失敗した場合はpartial-cleanupエラーを返す。
func (s *Service) Delete(ctx context.Context, id string) (CleanupReport, error) {
	var report CleanupReport
	if id == "" {
		return report, model.NewInvalidArgumentError("ツイートIDが空です")
	}

	// 1. ツイート本体（存在しない場合も成功扱い）
	if err := s.tweets.Delete(ctx, id); err != nil {
		return report, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}

	// 2. 関連いいねの列挙
	likes, err := s.likes.ListByTweet(ctx, id)
	if err != nil {
		slog.Error("failed to list likes for deleted tweet",
			slog.String("tweet_id", id),
			slog.String("error", err.Error()),
		)
		return report, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}

	// 3. 補償削除。失敗しても残りは続ける
	report.Attempted = len(likes)
	for _, l := range likes {
		if err := s.likes.Delete(ctx, l.ID); err != nil {
			report.Failed++
			slog.Warn("failed to delete like of deleted tweet",
				slog.String("tweet_id", id),
				slog.String("like_id", l.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.Removed++
	}

	slog.Info("tweet deleted",
		slog.String("tweet_id", id),
		slog.Int("likes_attempted", report.Attempted),
		slog.Int("likes_removed", report.Removed),
		slog.Int("likes_failed", report.Failed),
	)

	if report.Failed > 0 {
		return report, model.NewPartialCleanupError(report.Failed, report.Attempted)
	}
	return report, nil
}

// Subscribe はdate降順の全ツイートを変更のたびに受け取る。
// 各要素のFormattedDateは設定のレイアウトとタイムゾーンで埋められる。
func (s *Service) Subscribe(fn func([]model.Tweet), onErr func(*model.BridgeError)) (unsubscribe func()) {
	return s.hub.Subscribe(fn, func(err error) {
		if onErr != nil {
			onErr(model.AsBridgeError(err, model.NewSubscriptionFailedError(model.CollectionTweets)))
		}
	})
}

// FormatDate はepochミリ秒を表示用の文字列に変換する。
func (s *Service) FormatDate(ms int64) string {
	return time.UnixMilli(ms).In(s.config.Location).Format(s.config.DateFormat)
}

func (s *Service) loadFormatted(ctx context.Context) ([]model.Tweet, error) {
	tweets, err := s.tweets.ListOrderedByDate(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tweets {
		tweets[i].FormattedDate = s.FormatDate(tweets[i].Date)
	}
	return tweets, nil
}
