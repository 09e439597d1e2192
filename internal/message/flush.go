package message

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
)

const (
	// flushAllLimit caps concurrent storage writes during FlushAll.
	flushAllLimit = 8
	// defaultStorageTimeout bounds a storage call when none is configured.
	defaultStorageTimeout = 5 * time.Second
)

// ErrEngineClosed is returned by Append once Shutdown has started.
var ErrEngineClosed = errors.New("flush engine is shut down")

// FlushEngine appends messages to room buffers and persists a buffer as a
// conversation block once it reaches the threshold. A buffer is cleared only
// after storage accepts the block; on failure the messages stay and the next
// append retries.
type FlushEngine struct {
	source    BufferSource
	repo      Repository
	threshold int
	timeout   time.Duration
	metrics   *config.ServerMetrics
	now       func() time.Time
	closed    atomic.Bool
}

// NewFlushEngine creates a flush engine over the buffers in source.
func NewFlushEngine(source BufferSource, repo Repository, cfg config.BufferConfig, metrics *config.ServerMetrics) *FlushEngine {
	if metrics == nil {
		metrics = config.NewNopMetrics()
	}
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 1
	}
	timeout := cfg.FlushTimeout
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}
	return &FlushEngine{
		source:    source,
		repo:      repo,
		threshold: threshold,
		timeout:   timeout,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Append adds msg to the room's buffer and flushes when the threshold is
// reached. fanout, when non-nil, runs inside the room's critical section
// before the append so that delivery order matches buffer order. The
// returned block is non-nil only when this call persisted one. After
// Shutdown every call fails with ErrEngineClosed.
func (e *FlushEngine) Append(ctx context.Context, roomID string, msg Message, fanout func(Message)) (*ConversationBlock, error) {
	buf, ok := e.source.Buffer(roomID)
	if !ok {
		return nil, chaterr.Invalid("roomId", "unknown room "+roomID)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	// Checked under the room lock: Shutdown's flush of this room either
	// sees this message or this call sees the closed flag.
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if fanout != nil {
		fanout(msg)
	}
	buf.messages = append(buf.messages, msg)

	if len(buf.messages) < e.threshold {
		return nil, nil
	}
	return e.flushLocked(ctx, roomID, buf)
}

// Flush persists whatever the room currently buffers. An empty buffer is a
// no-op.
func (e *FlushEngine) Flush(ctx context.Context, roomID string) (*ConversationBlock, error) {
	buf, ok := e.source.Buffer(roomID)
	if !ok {
		return nil, chaterr.Invalid("roomId", "unknown room "+roomID)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()
	return e.flushLocked(ctx, roomID, buf)
}

// Shutdown stops accepting messages and flushes every non-empty buffer.
func (e *FlushEngine) Shutdown(ctx context.Context) error {
	e.closed.Store(true)
	log.Printf("🛑 Flush engine closed, flushing remaining buffers")
	return e.FlushAll(ctx)
}

// FlushAll flushes every non-empty buffer.
func (e *FlushEngine) FlushAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(flushAllLimit)

	for _, roomID := range e.source.RoomIDs() {
		g.Go(func() error {
			_, err := e.Flush(ctx, roomID)
			return err
		})
	}
	return g.Wait()
}

// Pending returns a copy of the room's unpersisted messages.
func (e *FlushEngine) Pending(roomID string) []Message {
	buf, ok := e.source.Buffer(roomID)
	if !ok {
		return nil
	}
	return buf.Snapshot()
}

// flushLocked must be called with buf.mu held.
func (e *FlushEngine) flushLocked(ctx context.Context, roomID string, buf *Buffer) (*ConversationBlock, error) {
	if len(buf.messages) == 0 {
		return nil, nil
	}

	// Block timestamps within a room are strictly increasing so that
	// backward pagination never returns two blocks for the same cursor.
	ts := e.now().UnixMilli()
	if ts <= buf.lastFlush {
		ts = buf.lastFlush + 1
	}

	block := &ConversationBlock{
		RoomID:    roomID,
		Timestamp: ts,
		Messages:  append([]Message(nil), buf.messages...),
	}

	// The write outlives a cancelled caller but not the flush timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	start := time.Now()
	err := e.repo.CreateConversationBlock(ctx, block)
	e.metrics.FlushDurationMS.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		e.metrics.Flushes.WithLabelValues("failed").Inc()
		log.Printf("⚠️ Flush of room %s failed, keeping %d buffered messages: %v", roomID, len(buf.messages), err)
		return nil, chaterr.Storage("create conversation block", err)
	}

	buf.messages = nil
	buf.lastFlush = ts
	e.metrics.Flushes.WithLabelValues("ok").Inc()
	log.Printf("💾 Flushed %d messages from room %s (block %s)", len(block.Messages), roomID, block.ID)
	return block, nil
}
