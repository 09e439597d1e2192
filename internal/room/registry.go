package room

import (
	"context"
	"log"
	"sync"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/message"
	"realtime-chat/internal/security"
)

type entry struct {
	room   Room
	buffer *message.Buffer
}

// Registry is the in-process catalog of rooms. Each room owns exactly one
// message buffer for the life of the process.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*entry
	order     []string
	repo      Repository
	validator *security.InputValidator
}

// NewRegistry creates an empty registry backed by repo.
func NewRegistry(repo Repository, validator *security.InputValidator) *Registry {
	return &Registry{
		rooms:     make(map[string]*entry),
		repo:      repo,
		validator: validator,
	}
}

// Load registers every room found in storage. Rooms already registered keep
// their buffers.
func (r *Registry) Load(ctx context.Context) error {
	rooms, err := r.repo.ListRooms(ctx)
	if err != nil {
		return chaterr.Storage("list rooms", err)
	}
	for _, room := range rooms {
		r.add(room)
	}
	log.Printf("🏠 Loaded %d rooms", len(rooms))
	return nil
}

// CreateRoom validates name, persists the room and registers it with an
// empty buffer.
func (r *Registry) CreateRoom(ctx context.Context, name, image string) (Room, error) {
	name, err := r.validator.ValidateRoomName(name)
	if err != nil {
		return Room{}, err
	}

	room := Room{Name: name, Image: image}
	id, err := r.repo.CreateRoom(ctx, room)
	if err != nil {
		return Room{}, chaterr.Storage("create room", err)
	}
	room.ID = id
	r.add(room)

	log.Printf("🏠 Room created: %s (%s)", room.Name, room.ID)
	return room, nil
}

// GetRoom returns a registered room, consulting storage for rooms created
// after Load.
func (r *Registry) GetRoom(ctx context.Context, id string) (*Room, error) {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		room := e.room
		return &room, nil
	}

	room, err := r.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, chaterr.Storage("get room", err)
	}
	if room == nil {
		return nil, nil
	}
	r.add(*room)
	return room, nil
}

// Rooms lists every room with a snapshot of its buffer.
func (r *Registry) Rooms() []Summary {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.rooms[id])
	}
	r.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		out = append(out, Summary{Room: e.room, Messages: e.buffer.Snapshot()})
	}
	return out
}

// Buffer implements message.BufferSource.
func (r *Registry) Buffer(roomID string) (*message.Buffer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.rooms[roomID]
	if !ok {
		return nil, false
	}
	return e.buffer, true
}

// RoomIDs implements message.BufferSource.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered rooms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) add(room Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rooms[room.ID]; ok {
		return
	}
	r.rooms[room.ID] = &entry{room: room, buffer: message.NewBuffer()}
	r.order = append(r.order, room.ID)
}
