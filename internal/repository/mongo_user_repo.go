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

type mongoUserDoc struct {
	ID        string    `bson:"_id"`
	Email     string    `bson:"email"`
	Name      string    `bson:"name"`
	PhotoURL  string    `bson:"photoUrl"`
	CreatedAt time.Time `bson:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

type mongoIdentityDoc struct {
	ID             string    `bson:"_id"`
	UserID         string    `bson:"userId"`
	Provider       string    `bson:"provider"`
	ProviderUserID string    `bson:"providerUserId"`
	CreatedAt      time.Time `bson:"createdAt"`
}

// MongoUserRepo はMongoDBを使用したユーザーリポジトリ。
type MongoUserRepo struct {
	client *mongo.Client
	users  *mongo.Collection
	idents *mongo.Collection
}

// NewMongoUserRepo はMongoUserRepoを生成する。
func NewMongoUserRepo(client *mongo.Client, db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{
		client: client,
		users:  db.Collection("users"),
		idents: db.Collection("identities"),
	}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MongoUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var doc mongoUserDoc
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return &model.User{
		ID:        doc.ID,
		Email:     doc.Email,
		Name:      doc.Name,
		PhotoURL:  doc.PhotoURL,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// CreateWithIdentity はユーザーとidentityをトランザクション内で作成する。
// トランザクションにはレプリカセット構成が必要。
func (r *MongoUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	sess, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start mongo session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, err := r.users.InsertOne(sc, mongoUserDoc{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			PhotoURL:  user.PhotoURL,
			CreatedAt: user.CreatedAt,
			UpdatedAt: user.UpdatedAt,
		}); err != nil {
			return nil, fmt.Errorf("failed to insert user: %w", err)
		}
		if _, err := r.idents.InsertOne(sc, mongoIdentityDoc{
			ID:             identity.ID,
			UserID:         identity.UserID,
			Provider:       identity.Provider,
			ProviderUserID: identity.ProviderUserID,
			CreatedAt:      identity.CreatedAt,
		}); err != nil {
			return nil, fmt.Errorf("failed to insert identity: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to create user with identity: %w", err)
	}
	return nil
}

// UpdateProfile はemail、name、photoUrlを更新する。
func (r *MongoUserRepo) UpdateProfile(ctx context.Context, user *model.User) error {
	res, err := r.users.UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{"$set": bson.M{
			"email":     user.Email,
			"name":      user.Name,
			"photoUrl":  user.PhotoURL,
			"updatedAt": user.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("failed to update user profile: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	return nil
}

// MongoIdentityRepo はMongoDBを使用したidentityリポジトリ。
type MongoIdentityRepo struct {
	idents *mongo.Collection
}

// NewMongoIdentityRepo はMongoIdentityRepoを生成する。
func NewMongoIdentityRepo(db *mongo.Database) *MongoIdentityRepo {
	return &MongoIdentityRepo{idents: db.Collection("identities")}
}

// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
func (r *MongoIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var doc mongoIdentityDoc
	err := r.idents.FindOne(ctx, bson.M{"provider": provider, "providerUserId": providerUserID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity (provider=%s): %w", provider, err)
	}
	return &model.Identity{
		ID:             doc.ID,
		UserID:         doc.UserID,
		Provider:       doc.Provider,
		ProviderUserID: doc.ProviderUserID,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

var (
	_ UserRepository     = (*MongoUserRepo)(nil)
	_ IdentityRepository = (*MongoIdentityRepo)(nil)
)
