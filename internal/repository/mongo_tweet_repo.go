package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hitoshi/tweetbridge/internal/model"
)

// MongoTweetRepo はMongoDBを使用したtweetsコレクションのリポジトリ。
type MongoTweetRepo struct {
	tweets *mongo.Collection
}

// NewMongoTweetRepo はMongoTweetRepoを生成する。
func NewMongoTweetRepo(db *mongo.Database) *MongoTweetRepo {
	return &MongoTweetRepo{tweets: db.Collection(model.CollectionTweets)}
}

// Create はツイートを作成する。IDが空の場合はULIDを採番する。
func (r *MongoTweetRepo) Create(ctx context.Context, tweet *model.Tweet) error {
	if tweet.ID == "" {
		tweet.ID = newDocumentID()
	}
	if _, err := r.tweets.InsertOne(ctx, tweet); err != nil {
		return fmt.Errorf("ツイートの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのツイートを削除する。存在しない場合もエラーにしない。
func (r *MongoTweetRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.tweets.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("ツイートの削除に失敗しました: %w", err)
	}
	return nil
}

// ListOrderedByDate は全ツイートをdate降順、同値は_id降順で返す。
func (r *MongoTweetRepo) ListOrderedByDate(ctx context.Context) ([]model.Tweet, error) {
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.tweets.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("ツイート一覧の取得に失敗しました: %w", err)
	}
	tweets := []model.Tweet{}
	if err := cur.All(ctx, &tweets); err != nil {
		return nil, fmt.Errorf("ツイート一覧の読み取りに失敗しました: %w", err)
	}
	return tweets, nil
}

// MongoLikeRepo はMongoDBを使用したlikesコレクションのリポジトリ。
type MongoLikeRepo struct {
	likes *mongo.Collection
}

// NewMongoLikeRepo はMongoLikeRepoを生成する。
func NewMongoLikeRepo(db *mongo.Database) *MongoLikeRepo {
	return &MongoLikeRepo{likes: db.Collection(model.CollectionLikes)}
}

// FindByUserAndTweet はユーザーとツイートの組でいいねを1件検索する。見つからない場合はnilを返す。
func (r *MongoLikeRepo) FindByUserAndTweet(ctx context.Context, userUID, tweetUID string) (*model.Like, error) {
	var like model.Like
	err := r.likes.FindOne(ctx, bson.M{"userUid": userUID, "tweetUid": tweetUID}).Decode(&like)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("いいねの検索に失敗しました: %w", err)
	}
	return &like, nil
}

// Create はいいねを作成する。IDが空の場合はULIDを採番する。
func (r *MongoLikeRepo) Create(ctx context.Context, like *model.Like) error {
	if like.ID == "" {
		like.ID = newDocumentID()
	}
	if _, err := r.likes.InsertOne(ctx, like); err != nil {
		return fmt.Errorf("いいねの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのいいねを削除する。存在しない場合もエラーにしない。
func (r *MongoLikeRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.likes.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("いいねの削除に失敗しました: %w", err)
	}
	return nil
}

// ListByTweet は指定ツイートに紐づくいいねを返す。
func (r *MongoLikeRepo) ListByTweet(ctx context.Context, tweetUID string) ([]model.Like, error) {
	return r.find(ctx, bson.M{"tweetUid": tweetUID})
}

// ListAll は全いいねを自然順で返す。
func (r *MongoLikeRepo) ListAll(ctx context.Context) ([]model.Like, error) {
	return r.find(ctx, bson.D{})
}

func (r *MongoLikeRepo) find(ctx context.Context, filter any) ([]model.Like, error) {
	cur, err := r.likes.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("いいね一覧の取得に失敗しました: %w", err)
	}
	likes := []model.Like{}
	if err := cur.All(ctx, &likes); err != nil {
		return nil, fmt.Errorf("いいね一覧の読み取りに失敗しました: %w", err)
	}
	return likes, nil
}

var (
	_ TweetRepository = (*MongoTweetRepo)(nil)
	_ LikeRepository  = (*MongoLikeRepo)(nil)
)
