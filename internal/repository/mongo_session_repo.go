package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hitoshi/tweetbridge/internal/model"
)

type mongoSessionDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	ExpiresAt time.Time `bson:"expiresAt"`
	CreatedAt time.Time `bson:"createdAt"`
}

// MongoSessionRepo はMongoDBを使用したセッションリポジトリ。
type MongoSessionRepo struct {
	sessions *mongo.Collection
	now      func() time.Time
}

// NewMongoSessionRepo はMongoSessionRepoを生成する。
func NewMongoSessionRepo(db *mongo.Database) *MongoSessionRepo {
	return &MongoSessionRepo{sessions: db.Collection("sessions"), now: time.Now}
}

// Create はセッションを作成する。
func (r *MongoSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.sessions.InsertOne(ctx, mongoSessionDoc{
		ID:        session.ID,
		UserID:    session.UserID,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDの有効なセッションを取得する。期限切れの場合はnilを返す。
func (r *MongoSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var doc mongoSessionDoc
	err := r.sessions.FindOne(ctx, bson.M{
		"_id":       id,
		"expiresAt": bson.M{"$gt": r.now()},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &model.Session{
		ID:        doc.ID,
		UserID:    doc.UserID,
		ExpiresAt: doc.ExpiresAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *MongoSessionRepo) DeleteByID(ctx context.Context, id string) error {
	if _, err := r.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除する。
// TTLインデックスでも削除されるが、その実行は最大60秒遅れる。
func (r *MongoSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.sessions.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": r.now()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.DeletedCount, nil
}

var _ SessionRepository = (*MongoSessionRepo)(nil)
