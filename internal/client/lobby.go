package client

import (
	"html"
	"strings"
	"sync"
	"time"

	"realtime-chat/internal/message"
	"realtime-chat/internal/room"
	"realtime-chat/internal/security"
)

// Room is the client's view of one chat room.
type Room struct {
	ID       string
	JoinedAt time.Time

	mu       sync.Mutex
	name     string
	image    string
	messages []message.Message
	loader   *ConversationLoader

	// OnNewMessage is called after a live message is appended.
	OnNewMessage func(message.Message)
	// OnConversation is called after an older block is prepended.
	OnConversation func(*message.ConversationBlock)
}

// Name returns the room's display name.
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Image returns the room's image reference.
func (r *Room) Image() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.image
}

// Loader returns the room's history loader.
func (r *Room) Loader() *ConversationLoader {
	return r.loader
}

// AddMessage appends a live message. Blank text is ignored.
func (r *Room) AddMessage(username, text string, sanitized bool) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	m := message.Message{Username: username, Text: text, Sanitized: sanitized}

	r.mu.Lock()
	r.messages = append(r.messages, m)
	cb := r.OnNewMessage
	r.mu.Unlock()

	if cb != nil {
		cb(m)
	}
	return true
}

// AddConversation prepends an older block to the visible history.
func (r *Room) AddConversation(block *message.ConversationBlock) {
	r.mu.Lock()
	merged := make([]message.Message, 0, len(block.Messages)+len(r.messages))
	merged = append(merged, block.Messages...)
	merged = append(merged, r.messages...)
	r.messages = merged
	cb := r.OnConversation
	r.mu.Unlock()

	if cb != nil {
		cb(block)
	}
}

// Messages returns a copy of the visible history, oldest first.
func (r *Room) Messages() []message.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.Message(nil), r.messages...)
}

// DisplayText returns username and text safe for HTML output. Messages the
// server already escaped are returned as is.
func DisplayText(m message.Message) (string, string) {
	if m.Sanitized {
		return m.Username, m.Text
	}
	return security.Sanitize(m.Username), security.Sanitize(m.Text)
}

// PlainText returns username and text for plain-text output, undoing the
// server's escaping.
func PlainText(m message.Message) (string, string) {
	if !m.Sanitized {
		return m.Username, m.Text
	}
	return html.UnescapeString(m.Username), html.UnescapeString(m.Text)
}

// Lobby holds the rooms the client knows about.
type Lobby struct {
	mu      sync.RWMutex
	rooms   map[string]*Room
	order   []string
	history HistoryFetcher

	// OnNewRoom is called after a room is added.
	OnNewRoom func(*Room)
}

// NewLobby creates an empty lobby whose rooms load history from history.
func NewLobby(history HistoryFetcher) *Lobby {
	return &Lobby{
		rooms:   make(map[string]*Room),
		history: history,
	}
}

// GetRoom returns the room with id, or nil.
func (l *Lobby) GetRoom(id string) *Room {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.rooms[id]
}

// Rooms returns rooms in the order they were added.
func (l *Lobby) Rooms() []*Room {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Room, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.rooms[id])
	}
	return out
}

// AddRoom adds a room joined now. An existing room is returned unchanged.
func (l *Lobby) AddRoom(id, name, image string, messages []message.Message) *Room {
	l.mu.Lock()
	if r, ok := l.rooms[id]; ok {
		l.mu.Unlock()
		return r
	}
	r := &Room{
		ID:       id,
		JoinedAt: time.Now(),
		name:     name,
		image:    image,
		messages: append([]message.Message(nil), messages...),
	}
	r.loader = NewConversationLoader(r, l.history)
	l.rooms[id] = r
	l.order = append(l.order, id)
	cb := l.OnNewRoom
	l.mu.Unlock()

	if cb != nil {
		cb(r)
	}
	return r
}

// Refresh merges a room listing: known rooms get their name and image
// updated, unknown rooms are added with their buffered messages.
func (l *Lobby) Refresh(rooms []room.Summary) {
	for _, s := range rooms {
		if r := l.GetRoom(s.ID); r != nil {
			r.mu.Lock()
			r.name = s.Name
			r.image = s.Image
			r.mu.Unlock()
			continue
		}
		l.AddRoom(s.ID, s.Name, s.Image, s.Messages)
	}
}
