// Package like はlikesコレクションのトグルとライブ購読を提供する。
package like

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/tweetbridge/internal/live"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/repository"
)

// Service はいいねのビジネスロジックを提供する。
type Service struct {
	likes repository.LikeRepository
	hub   *live.Hub[model.Like]
}

// NewService はServiceを生成する。購読の配信はStartを呼ぶまで始まらない。
func NewService(likes repository.LikeRepository, notifier repository.ChangeNotifier) *Service {
	return &Service{
		likes: likes,
		hub:   live.NewHub[model.Like](model.CollectionLikes, likes.ListAll, notifier),
	}
}

// Hub はlikesコレクションのライブハブを返す。
func (s *Service) Hub() *live.Hub[model.Like] { return s.hub }

// Start はlikesコレクションの変更監視を開始する。
func (s *Service) Start(ctx context.Context) error {
	return s.hub.Start(ctx)
}

// Toggle は(userUID, tweetUID)のいいねを反転する。存在すれば削除し、なければ作成する。
// 読み取りと書き込みの間に排他はないため、同時に呼ばれると重複や取りこぼしが起こり得る。
// 戻り値のlikedは操作後にいいね済みかどうか。
func (s *Service) Toggle(ctx context.Context, userUID, tweetUID string) (liked bool, err error) {
	if userUID == "" || tweetUID == "" {
		return false, model.NewInvalidArgumentError("userUidとtweetUidは必須です")
	}

	existing, err := s.likes.FindByUserAndTweet(ctx, userUID, tweetUID)
	if err != nil {
		return false, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}

	if existing != nil {
		if err := s.likes.Delete(ctx, existing.ID); err != nil {
			return true, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
		}
		slog.Debug("like removed",
			slog.String("user_id", userUID),
			slog.String("tweet_id", tweetUID),
		)
		return false, nil
	}

	if err := s.likes.Create(ctx, &model.Like{UserUID: userUID, TweetUID: tweetUID}); err != nil {
		return false, fmt.Errorf("%v: %w", err, model.NewUnavailableError())
	}
	slog.Debug("like added",
		slog.String("user_id", userUID),
		slog.String("tweet_id", tweetUID),
	)
	return true, nil
}

// Subscribe は全いいねを変更のたびに受け取る。順序はストア依存。
func (s *Service) Subscribe(fn func([]model.Like), onErr func(*model.BridgeError)) (unsubscribe func()) {
	return s.hub.Subscribe(fn, func(err error) {
		if onErr != nil {
			onErr(model.AsBridgeError(err, model.NewSubscriptionFailedError(model.CollectionLikes)))
		}
	})
}
