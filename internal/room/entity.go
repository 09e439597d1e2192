package room

import "realtime-chat/internal/message"

// Room represents a chat room
type Room struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// Summary is a room together with its not-yet-persisted messages, as served
// to a client entering the lobby.
type Summary struct {
	Room
	Messages []message.Message `json:"messages"`
}
