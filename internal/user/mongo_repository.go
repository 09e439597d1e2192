package user

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"realtime-chat/internal/database"
)

// MongoRepository implements Repository using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a new MongoDB user repository
func NewMongoRepository(db *database.MongoDB) *MongoRepository {
	return &MongoRepository{
		collection: db.GetCollection(database.UsersCollection),
	}
}

// GetUser finds a user by username
func (r *MongoRepository) GetUser(ctx context.Context, username string) (*User, error) {
	var doc database.UserDocument
	err := r.collection.FindOne(ctx, bson.M{"username": username}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &User{
		Username: doc.Username,
		Password: doc.Password,
	}, nil
}

// Upsert stores u, replacing any account with the same username
func (r *MongoRepository) Upsert(ctx context.Context, u User) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"username": u.Username},
		bson.M{"$set": bson.M{"username": u.Username, "password": u.Password}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}
