package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Repository manages room data
type Repository interface {
	ListRooms(ctx context.Context) ([]Room, error)
	// CreateRoom stores room and returns the ID generated by storage.
	CreateRoom(ctx context.Context, room Room) (string, error)
	// GetRoom returns nil when no room has the given ID.
	GetRoom(ctx context.Context, id string) (*Room, error)
}

// InMemoryRepository implements Repository using in-memory storage
type InMemoryRepository struct {
	rooms []Room
	mutex sync.RWMutex
}

// NewInMemoryRepository creates a new in-memory room repository holding seed.
func NewInMemoryRepository(seed ...Room) *InMemoryRepository {
	repo := &InMemoryRepository{}
	for _, r := range seed {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		repo.rooms = append(repo.rooms, r)
	}
	return repo
}

// ListRooms returns all rooms in creation order
func (r *InMemoryRepository) ListRooms(ctx context.Context) ([]Room, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	out := make([]Room, len(r.rooms))
	copy(out, r.rooms)
	return out, nil
}

// CreateRoom stores a new room under a fresh ID
func (r *InMemoryRepository) CreateRoom(ctx context.Context, room Room) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	room.ID = uuid.NewString()
	r.rooms = append(r.rooms, room)
	return room.ID, nil
}

// GetRoom finds a room by ID
func (r *InMemoryRepository) GetRoom(ctx context.Context, id string) (*Room, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, room := range r.rooms {
		if room.ID == id {
			found := room
			return &found, nil
		}
	}
	return nil, nil
}
