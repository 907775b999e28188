package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hitoshi/tweetbridge/internal/model"
)

const changeStreamRetryInterval = 5 * time.Second

// MongoNotifier はChange Streamでコレクションの変更を通知する。
type MongoNotifier struct {
	db         *mongo.Database
	retryDelay time.Duration
}

// NewMongoNotifier はMongoNotifierを生成する。
func NewMongoNotifier(db *mongo.Database) *MongoNotifier {
	return &MongoNotifier{db: db, retryDelay: changeStreamRetryInterval}
}

// Watch は指定コレクションのChange Streamを開き、変更ごとに値を送る。
// ストリームが切れた場合は再接続し、再同期のための通知を送る。
func (n *MongoNotifier) Watch(ctx context.Context, collection string) (<-chan struct{}, error) {
	coll := n.db.Collection(collection)
	stream, err := coll.Watch(ctx, mongo.Pipeline{})
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream for %s: %w", collection, err)
	}

	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		for {
			for stream.Next(ctx) {
				signal(out)
			}
			streamErr := stream.Err()
			_ = stream.Close(context.Background())
			if ctx.Err() != nil {
				return
			}
			slog.Warn("change stream closed, reconnecting",
				slog.String("collection", collection),
				slog.Any("error", streamErr),
			)

			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(n.retryDelay):
				}
				stream, err = coll.Watch(ctx, mongo.Pipeline{})
				if err == nil {
					break
				}
				slog.Warn("change stream reconnect failed",
					slog.String("collection", collection),
					slog.Any("error", err),
				)
			}
			signal(out)
		}
	}()

	return out, nil
}

type mongoPinger struct {
	client *mongo.Client
}

func (p mongoPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx, readpref.Primary())
}

// EnsureMongoIndexes はMongoDBバックエンドが前提とするインデックスを作成する。
// likesの(userUid, tweetUid)には一意制約を付けない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"identities": {{
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "providerUserId", Value: 1}},
			Options: options.Index().SetUnique(true),
		}},
		"sessions": {{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		}},
		model.CollectionTweets: {{
			Keys: bson.D{{Key: "date", Value: -1}, {Key: "_id", Value: -1}},
		}},
		model.CollectionLikes: {
			{Keys: bson.D{{Key: "tweetUid", Value: 1}}},
			{Keys: bson.D{{Key: "userUid", Value: 1}, {Key: "tweetUid", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

// NewMongoStore はMongoDBバックエンドのStoreを組み立てる。
func NewMongoStore(client *mongo.Client, dbName string) *Store {
	db := client.Database(dbName)
	return &Store{
		Driver:     "mongo",
		Users:      NewMongoUserRepo(client, db),
		Identities: NewMongoIdentityRepo(db),
		Sessions:   NewMongoSessionRepo(db),
		Tweets:     NewMongoTweetRepo(db),
		Likes:      NewMongoLikeRepo(db),
		Changes:    NewMongoNotifier(db),
		Health:     mongoPinger{client: client},
		closeFn: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		},
	}
}

var _ ChangeNotifier = (*MongoNotifier)(nil)
