package message

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
)

type testRooms struct {
	buffers map[string]*Buffer
}

func newTestRooms(ids ...string) *testRooms {
	r := &testRooms{buffers: make(map[string]*Buffer)}
	for _, id := range ids {
		r.buffers[id] = NewBuffer()
	}
	return r
}

func (r *testRooms) Buffer(roomID string) (*Buffer, bool) {
	b, ok := r.buffers[roomID]
	return b, ok
}

func (r *testRooms) RoomIDs() []string {
	ids := make([]string, 0, len(r.buffers))
	for id := range r.buffers {
		ids = append(ids, id)
	}
	return ids
}

// flakyRepository fails the next n writes before delegating.
type flakyRepository struct {
	*InMemoryRepository
	failures atomic.Int32
}

func (r *flakyRepository) CreateConversationBlock(ctx context.Context, block *ConversationBlock) error {
	if r.failures.Load() > 0 {
		r.failures.Add(-1)
		return errors.New("connection refused")
	}
	return r.InMemoryRepository.CreateConversationBlock(ctx, block)
}

func newTestEngine(rooms BufferSource, repo Repository, threshold int) *FlushEngine {
	return NewFlushEngine(rooms, repo, config.BufferConfig{Threshold: threshold, FlushTimeout: time.Second}, nil)
}

func msg(user, text string) Message {
	return Message{Username: user, Text: text, Sanitized: true}
}

func TestAppendFlushesAtThreshold(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		block, err := engine.Append(ctx, "r1", msg("alice", fmt.Sprintf("m%d", i)), nil)
		if err != nil || block != nil {
			t.Fatalf("append %d: block=%v err=%v", i, block, err)
		}
	}
	if repo.Count("r1") != 0 {
		t.Fatal("nothing should be persisted below the threshold")
	}

	block, err := engine.Append(ctx, "r1", msg("bob", "m3"), nil)
	if err != nil {
		t.Fatalf("append 3: %v", err)
	}
	if block == nil || len(block.Messages) != 3 {
		t.Fatalf("expected a 3-message block, got %+v", block)
	}
	if block.ID == "" || block.RoomID != "r1" || block.Timestamp <= 0 {
		t.Fatalf("block missing fields: %+v", block)
	}
	for i, m := range block.Messages {
		if want := fmt.Sprintf("m%d", i+1); m.Text != want {
			t.Fatalf("message %d out of order: %q", i, m.Text)
		}
	}
	if n := len(engine.Pending("r1")); n != 0 {
		t.Fatalf("buffer should be empty after flush, has %d", n)
	}

	got, err := repo.FindConversationBlock(ctx, "r1", block.Timestamp+1)
	if err != nil || got == nil || got.ID != block.ID {
		t.Fatalf("block not found in storage: %+v err=%v", got, err)
	}
}

func TestAppendUnknownRoom(t *testing.T) {
	engine := newTestEngine(newTestRooms("r1"), NewInMemoryRepository(), 3)
	called := false
	_, err := engine.Append(context.Background(), "nope", msg("alice", "hi"), func(Message) { called = true })

	var verr *chaterr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if called {
		t.Fatal("fanout must not run for an unknown room")
	}
}

func TestFailedFlushRetainsBuffer(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := &flakyRepository{InMemoryRepository: NewInMemoryRepository()}
	repo.failures.Store(1)
	engine := newTestEngine(rooms, repo, 2)
	ctx := context.Background()

	engine.Append(ctx, "r1", msg("alice", "a"), nil)
	_, err := engine.Append(ctx, "r1", msg("alice", "b"), nil)

	var serr *chaterr.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if n := len(engine.Pending("r1")); n != 2 {
		t.Fatalf("failed flush must keep messages, have %d", n)
	}

	block, err := engine.Append(ctx, "r1", msg("alice", "c"), nil)
	if err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if block == nil || len(block.Messages) != 3 {
		t.Fatalf("retry should persist all 3 messages, got %+v", block)
	}
	if repo.Count("r1") != 1 {
		t.Fatalf("expected exactly one stored block, got %d", repo.Count("r1"))
	}
}

func TestFlushTimeoutFeedsRetry(t *testing.T) {
	rooms := newTestRooms("r1")
	engine := NewFlushEngine(rooms, blockingRepository{}, config.BufferConfig{Threshold: 1, FlushTimeout: 10 * time.Millisecond}, nil)

	_, err := engine.Append(context.Background(), "r1", msg("alice", "slow"), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if len(engine.Pending("r1")) != 1 {
		t.Fatal("timed out flush must keep the message")
	}
}

type blockingRepository struct{}

func (blockingRepository) CreateConversationBlock(ctx context.Context, _ *ConversationBlock) error {
	<-ctx.Done()
	return ctx.Err()
}

func (blockingRepository) FindConversationBlock(ctx context.Context, _ string, _ int64) (*ConversationBlock, error) {
	return nil, nil
}

func TestConcurrentAppendsAreAccountedFor(t *testing.T) {
	rooms := newTestRooms("r1", "r2")
	repo := &flakyRepository{InMemoryRepository: NewInMemoryRepository()}
	repo.failures.Store(3)
	engine := newTestEngine(rooms, repo, 7)
	ctx := context.Background()

	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			room := "r1"
			if w%2 == 1 {
				room = "r2"
			}
			for i := 0; i < perWriter; i++ {
				engine.Append(ctx, room, msg(fmt.Sprintf("u%d", w), fmt.Sprintf("%d", i)), nil)
			}
		}(w)
	}
	wg.Wait()

	for _, room := range []string{"r1", "r2"} {
		var blocks [][]Message
		before := time.Now().Add(time.Hour).UnixMilli()
		for {
			block, err := repo.FindConversationBlock(ctx, room, before)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if block == nil {
				break
			}
			blocks = append(blocks, block.Messages)
			before = block.Timestamp
		}

		// Oldest block first, then the unflushed tail.
		var all []Message
		for i := len(blocks) - 1; i >= 0; i-- {
			all = append(all, blocks[i]...)
		}
		all = append(all, engine.Pending(room)...)

		if want := writers / 2 * perWriter; len(all) != want {
			t.Fatalf("room %s: got %d messages, want %d", room, len(all), want)
		}
		seen := make(map[string]bool, len(all))
		last := make(map[string]int)
		for _, m := range all {
			key := m.Username + "/" + m.Text
			if seen[key] {
				t.Fatalf("room %s: message %s stored twice", room, key)
			}
			seen[key] = true

			var i int
			fmt.Sscan(m.Text, &i)
			if prev, ok := last[m.Username]; ok && i <= prev {
				t.Fatalf("room %s: %s sent %d after %d", room, m.Username, i, prev)
			}
			if _, ok := last[m.Username]; !ok && i != 0 {
				t.Fatalf("room %s: %s starts at %d", room, m.Username, i)
			}
			last[m.Username] = i
		}
		for w := 0; w < writers; w++ {
			name := fmt.Sprintf("u%d", w)
			if (w%2 == 0) != (room == "r1") {
				continue
			}
			if last[name] != perWriter-1 {
				t.Fatalf("room %s: %s last message %d, want %d", room, name, last[name], perWriter-1)
			}
		}
	}
}

func TestFanoutOrderMatchesBufferOrder(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 5)
	ctx := context.Background()

	var delivered []string
	fanout := func(m Message) { delivered = append(delivered, m.Text) }

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 9; i++ {
				engine.Append(ctx, "r1", msg("u", fmt.Sprintf("%d-%d", w, i)), fanout)
			}
		}(w)
	}
	wg.Wait()

	var stored []string
	var blocks []*ConversationBlock
	before := time.Now().Add(time.Hour).UnixMilli()
	for {
		block, _ := repo.FindConversationBlock(ctx, "r1", before)
		if block == nil {
			break
		}
		blocks = append([]*ConversationBlock{block}, blocks...)
		before = block.Timestamp
	}
	for _, b := range blocks {
		for _, m := range b.Messages {
			stored = append(stored, m.Text)
		}
	}
	for _, m := range engine.Pending("r1") {
		stored = append(stored, m.Text)
	}

	if len(stored) != len(delivered) {
		t.Fatalf("stored %d messages, delivered %d", len(stored), len(delivered))
	}
	for i := range stored {
		if stored[i] != delivered[i] {
			t.Fatalf("order diverges at %d: stored %q delivered %q", i, stored[i], delivered[i])
		}
	}
}

func TestFlushAll(t *testing.T) {
	rooms := newTestRooms("r1", "r2", "r3")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 10)
	ctx := context.Background()

	engine.Append(ctx, "r1", msg("a", "1"), nil)
	engine.Append(ctx, "r2", msg("b", "2"), nil)

	if err := engine.FlushAll(ctx); err != nil {
		t.Fatalf("flush all: %v", err)
	}
	if repo.Count("r1") != 1 || repo.Count("r2") != 1 || repo.Count("r3") != 0 {
		t.Fatalf("unexpected block counts %d %d %d", repo.Count("r1"), repo.Count("r2"), repo.Count("r3"))
	}
}

func TestZeroFlushTimeoutUsesDefault(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := NewFlushEngine(rooms, repo, config.BufferConfig{Threshold: 1}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := engine.Append(ctx, "r1", msg("alice", fmt.Sprintf("%d", i)), nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if repo.Count("r1") != 3 || len(engine.Pending("r1")) != 0 {
		t.Fatalf("expected 3 blocks and nothing pending, got %d and %d", repo.Count("r1"), len(engine.Pending("r1")))
	}
}

func TestShutdownRefusesLateAppends(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 10)
	ctx := context.Background()

	engine.Append(ctx, "r1", msg("alice", "before"), nil)
	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if repo.Count("r1") != 1 {
		t.Fatalf("shutdown should flush the buffer, got %d blocks", repo.Count("r1"))
	}

	fanned := false
	_, err := engine.Append(ctx, "r1", msg("alice", "after"), func(Message) { fanned = true })
	if !errors.Is(err, ErrEngineClosed) {
		t.Fatalf("expected ErrEngineClosed, got %v", err)
	}
	if fanned || len(engine.Pending("r1")) != 0 {
		t.Fatal("a refused message must be neither relayed nor buffered")
	}
}

func TestShutdownRacingAppendsLoseNothing(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 3)
	ctx := context.Background()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := engine.Append(ctx, "r1", msg(fmt.Sprintf("u%d", w), fmt.Sprintf("%d", i)), nil); err == nil {
					accepted.Add(1)
				}
			}
		}(w)
	}
	time.Sleep(time.Millisecond)
	if err := engine.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	wg.Wait()

	if pending := engine.Pending("r1"); len(pending) != 0 {
		t.Fatalf("%d messages left in memory after shutdown", len(pending))
	}
	persisted := 0
	before := time.Now().Add(time.Hour).UnixMilli()
	for {
		block, _ := repo.FindConversationBlock(ctx, "r1", before)
		if block == nil {
			break
		}
		persisted += len(block.Messages)
		before = block.Timestamp
	}
	if persisted != int(accepted.Load()) {
		t.Fatalf("accepted %d messages but persisted %d", accepted.Load(), persisted)
	}
}

func TestHistoryPaginationWalk(t *testing.T) {
	rooms := newTestRooms("r1")
	repo := NewInMemoryRepository()
	engine := newTestEngine(rooms, repo, 2)
	fixed := time.UnixMilli(1_700_000_000_000)
	engine.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		engine.Append(ctx, "r1", msg("alice", fmt.Sprintf("%d", i)), nil)
	}
	if repo.Count("r1") != 5 {
		t.Fatalf("expected 5 blocks, got %d", repo.Count("r1"))
	}

	history := NewHistoryService(repo, time.Second, nil)
	history.now = func() time.Time { return fixed.Add(time.Minute) }

	var cursor int64
	seen := make(map[string]bool)
	last := int64(1 << 62)
	pages := 0
	for {
		block, err := history.GetConversationBefore(ctx, "r1", cursor)
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		if block == nil {
			break
		}
		if block.Timestamp >= last {
			t.Fatalf("timestamps must strictly decrease: %d after %d", block.Timestamp, last)
		}
		if seen[block.ID] {
			t.Fatalf("block %s returned twice", block.ID)
		}
		seen[block.ID] = true
		last = block.Timestamp
		cursor = block.Timestamp
		pages++
	}
	if pages != 5 {
		t.Fatalf("expected 5 pages, got %d", pages)
	}

	block, err := history.GetConversationBefore(ctx, "r1", last)
	if err != nil || block != nil {
		t.Fatalf("expected exhausted history, got %+v err=%v", block, err)
	}
}

func TestHistoryEmptyAndErrors(t *testing.T) {
	history := NewHistoryService(NewInMemoryRepository(), time.Second, nil)

	block, err := history.GetConversationBefore(context.Background(), "r1", 0)
	if err != nil || block != nil {
		t.Fatalf("expected nil block for empty room, got %+v err=%v", block, err)
	}

	_, err = history.GetConversationBefore(context.Background(), "", 0)
	var verr *chaterr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	failing := NewHistoryService(errorRepository{}, time.Second, nil)
	_, err = failing.GetConversationBefore(context.Background(), "r1", 0)
	var serr *chaterr.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

type errorRepository struct{}

func (errorRepository) CreateConversationBlock(context.Context, *ConversationBlock) error {
	return errors.New("down")
}

func (errorRepository) FindConversationBlock(context.Context, string, int64) (*ConversationBlock, error) {
	return nil, errors.New("down")
}
