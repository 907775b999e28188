// Package cleanup はストアのメンテナンスジョブを提供する。
// 期限切れセッションと、ツイート削除の途中失敗で残った孤立いいねを定期的に削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hitoshi/tweetbridge/internal/metrics"
	"github.com/hitoshi/tweetbridge/internal/model"
	"github.com/hitoshi/tweetbridge/internal/repository"
)

// スイープ種別（メトリクスのラベル）
const (
	SweepSessions    = "sessions"
	SweepOrphanLikes = "orphan_likes"
)

// Report は1回のジョブ実行結果。
type Report struct {
	ExpiredSessions int64
	OrphanLikes     int64
	FailedLikes     int64
}

// CleanupJob はストアのメンテナンスジョブ。
// 何度実行しても結果は変わらない。
type CleanupJob struct {
	tweets   repository.TweetRepository
	likes    repository.LikeRepository
	sessions repository.SessionRepository
	logger   *slog.Logger
	recorder metrics.Recorder

	MaxConcurrency int // 孤立いいね削除の最大並列数（デフォルト: 4）
}

// NewCleanupJob は新しいCleanupJobを生成する。recorderはnilでもよい。
func NewCleanupJob(
	tweets repository.TweetRepository,
	likes repository.LikeRepository,
	sessions repository.SessionRepository,
	logger *slog.Logger,
	recorder metrics.Recorder,
) *CleanupJob {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &CleanupJob{
		tweets:         tweets,
		likes:          likes,
		sessions:       sessions,
		logger:         logger,
		recorder:       recorder,
		MaxConcurrency: 4,
	}
}

// Start はinterval間隔でRunを実行する。起動直後に1回実行し、ctxが終了するまで戻らない。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("メンテナンスジョブを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("メンテナンスジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("メンテナンスジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Run は期限切れセッションと孤立いいねを1回ずつ掃除する。
// 片方が失敗してももう片方は実行し、最初のエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	var report Report
	var firstErr error

	expired, err := j.sessions.DeleteExpired(ctx)
	if err != nil {
		firstErr = fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	} else {
		report.ExpiredSessions = expired
		j.recorder.RecordSweep(SweepSessions, expired)
	}

	removed, failed, err := j.sweepOrphanLikes(ctx)
	report.OrphanLikes = removed
	report.FailedLikes = failed
	j.recorder.RecordSweep(SweepOrphanLikes, removed)
	if err != nil && firstErr == nil {
		firstErr = err
	}

	j.logger.Info("メンテナンスジョブが完了しました",
		slog.Int64("expired_sessions", report.ExpiredSessions),
		slog.Int64("orphan_likes", report.OrphanLikes),
		slog.Int64("failed_likes", report.FailedLikes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return report, firstErr
}

// sweepOrphanLikes は存在しないツイートを指すいいねを削除する。
// いいねを先に列挙するので、列挙後に作られたツイートといいねを誤って消すことはない。
func (j *CleanupJob) sweepOrphanLikes(ctx context.Context) (removed, failed int64, err error) {
	likes, err := j.likes.ListAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("いいねの列挙に失敗: %w", err)
	}
	if len(likes) == 0 {
		return 0, 0, nil
	}

	tweets, err := j.tweets.ListOrderedByDate(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("ツイートの列挙に失敗: %w", err)
	}
	exists := make(map[string]struct{}, len(tweets))
	for _, t := range tweets {
		exists[t.ID] = struct{}{}
	}

	var orphans []model.Like
	for _, l := range likes {
		if _, ok := exists[l.TweetUID]; !ok {
			orphans = append(orphans, l)
		}
	}
	if len(orphans) == 0 {
		return 0, 0, nil
	}

	maxConcurrency := j.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var removedCount, failedCount atomic.Int64

	for _, like := range orphans {
		wg.Add(1)
		sem <- struct{}{}

		go func(l model.Like) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := j.likes.Delete(ctx, l.ID); err != nil {
				failedCount.Add(1)
				j.logger.Warn("孤立いいねの削除に失敗しました",
					slog.String("like_id", l.ID),
					slog.String("tweet_id", l.TweetUID),
					slog.String("error", err.Error()),
				)
				return
			}
			removedCount.Add(1)
		}(like)
	}

	wg.Wait()

	removed, failed = removedCount.Load(), failedCount.Load()
	if failed > 0 {
		return removed, failed, fmt.Errorf("孤立いいね%d件の削除に失敗", failed)
	}
	return removed, failed, nil
}
