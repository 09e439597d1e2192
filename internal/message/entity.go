package message

// Message is one chat line. Sanitized is true once Username and Text have
// been HTML-escaped by the broker.
type Message struct {
	Username  string `json:"username"`
	Text      string `json:"text"`
	Sanitized bool   `json:"sanitized"`
}

// ConversationBlock is an immutable, persisted batch of a room's messages.
// Timestamp is the flush time in epoch milliseconds.
type ConversationBlock struct {
	ID        string    `json:"_id,omitempty"`
	RoomID    string    `json:"room_id"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// InboundFrame is the JSON a client sends over its socket.
type InboundFrame struct {
	RoomID string `json:"roomId"`
	Text   string `json:"text"`
}

// OutboundFrame is the JSON the broker fans out to peers.
type OutboundFrame struct {
	RoomID    string `json:"roomId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Sanitized bool   `json:"sanitized"`
}

// NewOutboundFrame tags msg with its room for delivery.
func NewOutboundFrame(roomID string, msg Message) OutboundFrame {
	return OutboundFrame{
		RoomID:    roomID,
		Username:  msg.Username,
		Text:      msg.Text,
		Sanitized: msg.Sanitized,
	}
}
