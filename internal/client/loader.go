package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"realtime-chat/internal/message"
)

var (
	// ErrLoaderBusy is returned while a previous Advance is still waiting
	// for its response.
	ErrLoaderBusy = errors.New("conversation request already in flight")
	// ErrHistoryExhausted is returned once the server has reported that no
	// older history exists.
	ErrHistoryExhausted = errors.New("no older conversation")
	// ErrStaleResponse is returned when the loader was detached while the
	// request was in flight; the response is discarded.
	ErrStaleResponse = errors.New("conversation response discarded after detach")
)

// HistoryFetcher retrieves the newest block of a room older than before.
type HistoryFetcher interface {
	GetLastConversation(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error)
}

// ConversationLoader pages a room's history backward. The cursor starts at
// the room's join time and moves to each returned block's timestamp. At most
// one request is in flight; the gate is released once the response (or
// failure) has been processed.
type ConversationLoader struct {
	mu         sync.Mutex
	room       *Room
	fetch      HistoryFetcher
	cursor     int64
	inFlight   bool
	exhausted  bool
	generation uint64
}

// NewConversationLoader creates a loader for r.
func NewConversationLoader(r *Room, fetch HistoryFetcher) *ConversationLoader {
	return &ConversationLoader{
		room:   r,
		fetch:  fetch,
		cursor: r.JoinedAt.UnixMilli(),
	}
}

// CanLoad reports whether Advance would issue a request.
func (l *ConversationLoader) CanLoad() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.inFlight && !l.exhausted && l.fetch != nil
}

// Cursor returns the timestamp the next request will page before.
func (l *ConversationLoader) Cursor() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor
}

// Detach discards any in-flight response, for when the view leaves the room.
// The next Advance may start immediately.
func (l *ConversationLoader) Detach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.generation++
	l.inFlight = false
}

// Advance fetches the next older block and prepends it to the room. It
// returns a nil block with a nil error when the server has no older history;
// every later call returns ErrHistoryExhausted.
func (l *ConversationLoader) Advance(ctx context.Context) (*message.ConversationBlock, error) {
	l.mu.Lock()
	switch {
	case l.fetch == nil:
		l.mu.Unlock()
		return nil, errors.New("conversation loader has no history source")
	case l.exhausted:
		l.mu.Unlock()
		return nil, ErrHistoryExhausted
	case l.inFlight:
		l.mu.Unlock()
		return nil, ErrLoaderBusy
	}
	l.inFlight = true
	gen := l.generation
	cursor := l.cursor
	l.mu.Unlock()

	block, err := l.fetch.GetLastConversation(ctx, l.room.ID, cursor)

	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return nil, ErrStaleResponse
	}
	l.inFlight = false

	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to load conversation before %d: %w", cursor, err)
	}
	if block == nil {
		l.exhausted = true
		l.mu.Unlock()
		return nil, nil
	}
	if block.Timestamp >= cursor {
		l.exhausted = true
		l.mu.Unlock()
		return nil, fmt.Errorf("server returned block at %d for cursor %d", block.Timestamp, cursor)
	}
	l.cursor = block.Timestamp
	l.mu.Unlock()

	l.room.AddConversation(block)
	return block, nil
}
