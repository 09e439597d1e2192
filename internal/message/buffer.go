package message

import "sync"

// Buffer holds a room's messages that have not been persisted yet, in
// arrival order. Its lock is the room's critical section.
type Buffer struct {
	mu        sync.Mutex
	messages  []Message
	lastFlush int64
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Snapshot returns a copy of the buffered messages.
func (b *Buffer) Snapshot() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// BufferSource resolves the buffer owned by a room.
type BufferSource interface {
	Buffer(roomID string) (*Buffer, bool)
	RoomIDs() []string
}
