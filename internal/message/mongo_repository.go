package message

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"realtime-chat/internal/database"
)

// MongoRepository implements Repository interface using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a new MongoDB conversation repository
func NewMongoRepository(db *database.MongoDB) *MongoRepository {
	return &MongoRepository{
		collection: db.GetCollection(database.ConversationsCollection),
	}
}

// CreateConversationBlock inserts block and records the generated ID
func (r *MongoRepository) CreateConversationBlock(ctx context.Context, block *ConversationBlock) error {
	if err := validateBlock(block); err != nil {
		return err
	}

	doc := database.ConversationDocument{
		RoomID:    block.RoomID,
		Timestamp: block.Timestamp,
		Messages:  make([]database.MessageDocument, 0, len(block.Messages)),
	}
	for _, m := range block.Messages {
		doc.Messages = append(doc.Messages, database.MessageDocument{
			Username:  m.Username,
			Text:      m.Text,
			Sanitized: m.Sanitized,
		})
	}

	result, err := r.collection.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to insert conversation: %w", err)
	}

	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		block.ID = oid.Hex()
	}
	return nil
}

// FindConversationBlock returns the newest block older than before
func (r *MongoRepository) FindConversationBlock(ctx context.Context, roomID string, before int64) (*ConversationBlock, error) {
	filter := bson.M{
		"room_id":   roomID,
		"timestamp": bson.M{"$lt": before},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var doc database.ConversationDocument
	err := r.collection.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	block := &ConversationBlock{
		ID:        doc.ID.Hex(),
		RoomID:    doc.RoomID,
		Timestamp: doc.Timestamp,
		Messages:  make([]Message, 0, len(doc.Messages)),
	}
	for _, m := range doc.Messages {
		block.Messages = append(block.Messages, Message{
			Username:  m.Username,
			Text:      m.Text,
			Sanitized: m.Sanitized,
		})
	}
	return block, nil
}
