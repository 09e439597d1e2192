package database

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserDocument represents a user document in MongoDB
type UserDocument struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	Username string             `bson:"username"`
	Password string             `bson:"password"`
}

// RoomDocument represents a room document in MongoDB. The ID is left
// untyped because seeded rooms may use plain string ids.
type RoomDocument struct {
	ID    interface{} `bson:"_id,omitempty"`
	Name  string      `bson:"name"`
	Image string      `bson:"image"`
}

// MessageDocument is one message embedded in a conversation block
type MessageDocument struct {
	Username  string `bson:"username"`
	Text      string `bson:"text"`
	Sanitized bool   `bson:"sanitized"`
}

// ConversationDocument represents a persisted block of room messages
type ConversationDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	RoomID    string             `bson:"room_id"`
	Timestamp int64              `bson:"timestamp"`
	Messages  []MessageDocument  `bson:"messages"`
}

// IDString renders a document id the way the HTTP layer exposes it.
func IDString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
