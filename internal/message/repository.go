package message

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"realtime-chat/internal/chaterr"
)

// Repository persists conversation blocks
type Repository interface {
	// CreateConversationBlock stores block and sets its ID.
	CreateConversationBlock(ctx context.Context, block *ConversationBlock) error
	// FindConversationBlock returns the room's newest block with a timestamp
	// strictly below before, or nil when there is none.
	FindConversationBlock(ctx context.Context, roomID string, before int64) (*ConversationBlock, error)
}

// InMemoryRepository implements Repository interface in memory
type InMemoryRepository struct {
	mu     sync.RWMutex
	blocks map[string][]ConversationBlock
}

// NewInMemoryRepository creates a new in-memory conversation repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		blocks: make(map[string][]ConversationBlock),
	}
}

// CreateConversationBlock stores a copy of block
func (r *InMemoryRepository) CreateConversationBlock(ctx context.Context, block *ConversationBlock) error {
	if err := validateBlock(block); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	block.ID = uuid.NewString()
	stored := *block
	stored.Messages = append([]Message(nil), block.Messages...)
	r.blocks[block.RoomID] = append(r.blocks[block.RoomID], stored)
	return nil
}

// FindConversationBlock returns the newest block older than before
func (r *InMemoryRepository) FindConversationBlock(ctx context.Context, roomID string, before int64) (*ConversationBlock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var found *ConversationBlock
	for i := range r.blocks[roomID] {
		b := &r.blocks[roomID][i]
		if b.Timestamp < before && (found == nil || b.Timestamp > found.Timestamp) {
			found = b
		}
	}
	if found == nil {
		return nil, nil
	}
	out := *found
	out.Messages = append([]Message(nil), found.Messages...)
	return &out, nil
}

// Count returns the number of stored blocks for roomID
func (r *InMemoryRepository) Count(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.blocks[roomID])
}

func validateBlock(block *ConversationBlock) error {
	switch {
	case block == nil:
		return chaterr.Invalid("block", "block is required")
	case block.RoomID == "":
		return chaterr.Invalid("room_id", "room id is required")
	case block.Timestamp <= 0:
		return chaterr.Invalid("timestamp", "timestamp is required")
	case len(block.Messages) == 0:
		return chaterr.Invalid("messages", "messages are required")
	}
	return nil
}
