package room

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"realtime-chat/internal/database"
)

// MongoRepository implements Repository using MongoDB
type MongoRepository struct {
	collection *mongo.Collection
}

// NewMongoRepository creates a new MongoDB room repository
func NewMongoRepository(db *database.MongoDB) *MongoRepository {
	return &MongoRepository{
		collection: db.GetCollection(database.RoomsCollection),
	}
}

// ListRooms returns every stored room
func (r *MongoRepository) ListRooms(ctx context.Context) ([]Room, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []database.RoomDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode rooms: %w", err)
	}

	rooms := make([]Room, 0, len(docs))
	for _, doc := range docs {
		rooms = append(rooms, fromDocument(doc))
	}
	return rooms, nil
}

// CreateRoom inserts room and returns the ID MongoDB generated for it
func (r *MongoRepository) CreateRoom(ctx context.Context, room Room) (string, error) {
	result, err := r.collection.InsertOne(ctx, database.RoomDocument{
		Name:  room.Name,
		Image: room.Image,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create room: %w", err)
	}
	return database.IDString(result.InsertedID), nil
}

// GetRoom finds a room by ObjectID hex, falling back to a plain string _id
func (r *MongoRepository) GetRoom(ctx context.Context, id string) (*Room, error) {
	filters := make([]bson.M, 0, 2)
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		filters = append(filters, bson.M{"_id": oid})
	}
	filters = append(filters, bson.M{"_id": id})

	for _, filter := range filters {
		var doc database.RoomDocument
		err := r.collection.FindOne(ctx, filter).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get room: %w", err)
		}
		room := fromDocument(doc)
		return &room, nil
	}
	return nil, nil
}

func fromDocument(doc database.RoomDocument) Room {
	return Room{
		ID:    database.IDString(doc.ID),
		Name:  doc.Name,
		Image: doc.Image,
	}
}
