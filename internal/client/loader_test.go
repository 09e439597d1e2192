package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"realtime-chat/internal/message"
)

// stubHistory serves blocks the way the server does: the newest block older
// than before, or nil.
type stubHistory struct {
	mu      sync.Mutex
	blocks  []message.ConversationBlock
	calls   []int64
	fail    int
	release chan struct{}
}

func (s *stubHistory) GetLastConversation(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error) {
	s.mu.Lock()
	s.calls = append(s.calls, before)
	release := s.release
	fail := s.fail > 0
	if fail {
		s.fail--
	}
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection reset")
	}

	var found *message.ConversationBlock
	for i := range s.blocks {
		b := s.blocks[i]
		if b.RoomID == roomID && b.Timestamp < before && (found == nil || b.Timestamp > found.Timestamp) {
			found = &b
		}
	}
	return found, nil
}

func block(ts int64, texts ...string) message.ConversationBlock {
	b := message.ConversationBlock{RoomID: "general", Timestamp: ts}
	for _, text := range texts {
		b.Messages = append(b.Messages, message.Message{Username: "alice", Text: text})
	}
	return b
}

func newLoaderRoom(history HistoryFetcher, joined time.Time) *Room {
	r := &Room{ID: "general", JoinedAt: joined}
	r.loader = NewConversationLoader(r, history)
	return r
}

func texts(msgs []message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestLoaderWalksHistoryBackward(t *testing.T) {
	history := &stubHistory{blocks: []message.ConversationBlock{
		block(100, "a", "b"),
		block(200, "c", "d"),
		block(300, "e", "f"),
	}}
	r := newLoaderRoom(history, time.UnixMilli(1000))
	r.AddMessage("bob", "live", false)
	loader := r.Loader()

	if loader.Cursor() != 1000 {
		t.Fatalf("cursor should start at join time, got %d", loader.Cursor())
	}

	for _, want := range []int64{300, 200, 100} {
		b, err := loader.Advance(context.Background())
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
		if b == nil || b.Timestamp != want {
			t.Fatalf("expected block at %d, got %+v", want, b)
		}
		if loader.Cursor() != want {
			t.Fatalf("cursor should move to %d, got %d", want, loader.Cursor())
		}
	}

	b, err := loader.Advance(context.Background())
	if err != nil || b != nil {
		t.Fatalf("expected end of history, got %+v, %v", b, err)
	}
	if loader.CanLoad() {
		t.Fatal("loader should stop after an empty page")
	}
	if _, err := loader.Advance(context.Background()); !errors.Is(err, ErrHistoryExhausted) {
		t.Fatalf("expected ErrHistoryExhausted, got %v", err)
	}

	got := texts(r.Messages())
	want := []string{"a", "b", "c", "d", "e", "f", "live"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	calls := history.calls
	if len(calls) != 4 || calls[0] != 1000 || calls[1] != 300 || calls[2] != 200 || calls[3] != 100 {
		t.Fatalf("unexpected request cursors %v", calls)
	}
}

func TestLoaderAllowsOneRequestInFlight(t *testing.T) {
	history := &stubHistory{
		blocks:  []message.ConversationBlock{block(100, "a")},
		release: make(chan struct{}),
	}
	loader := newLoaderRoom(history, time.UnixMilli(1000)).Loader()

	done := make(chan error, 1)
	go func() {
		_, err := loader.Advance(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for loader.CanLoad() {
		if time.Now().After(deadline) {
			t.Fatal("first request never started")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := loader.Advance(context.Background()); !errors.Is(err, ErrLoaderBusy) {
		t.Fatalf("expected ErrLoaderBusy, got %v", err)
	}

	close(history.release)
	if err := <-done; err != nil {
		t.Fatalf("first request: %v", err)
	}
	if !loader.CanLoad() {
		t.Fatal("gate should reopen after the response")
	}
	if len(history.calls) != 1 {
		t.Fatalf("expected a single request, got %d", len(history.calls))
	}
}

func TestLoaderReopensAfterFailure(t *testing.T) {
	history := &stubHistory{blocks: []message.ConversationBlock{block(100, "a")}, fail: 1}
	loader := newLoaderRoom(history, time.UnixMilli(1000)).Loader()

	if _, err := loader.Advance(context.Background()); err == nil {
		t.Fatal("expected the first request to fail")
	}
	if !loader.CanLoad() || loader.Cursor() != 1000 {
		t.Fatalf("failure should leave the cursor and reopen the gate, cursor=%d", loader.Cursor())
	}

	b, err := loader.Advance(context.Background())
	if err != nil || b == nil || b.Timestamp != 100 {
		t.Fatalf("retry should succeed, got %+v, %v", b, err)
	}
}

func TestLoaderDiscardsResponseAfterDetach(t *testing.T) {
	history := &stubHistory{
		blocks:  []message.ConversationBlock{block(100, "a")},
		release: make(chan struct{}),
	}
	r := newLoaderRoom(history, time.UnixMilli(1000))
	loader := r.Loader()

	done := make(chan error, 1)
	go func() {
		_, err := loader.Advance(context.Background())
		done <- err
	}()
	for loader.CanLoad() {
		time.Sleep(time.Millisecond)
	}

	loader.Detach()
	if !loader.CanLoad() {
		t.Fatal("detach should reopen the gate")
	}
	close(history.release)

	if err := <-done; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}
	if len(r.Messages()) != 0 || loader.Cursor() != 1000 {
		t.Fatal("stale response must not change the room")
	}
}

func TestLoaderRejectsNonDecreasingBlock(t *testing.T) {
	r := newLoaderRoom(fetchFunc(func(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error) {
		b := block(before, "dup")
		return &b, nil
	}), time.UnixMilli(1000))

	if _, err := r.Loader().Advance(context.Background()); err == nil {
		t.Fatal("expected an error for a block at the cursor")
	}
	if r.Loader().CanLoad() || len(r.Messages()) != 0 {
		t.Fatal("overlapping block must stop the loader without rendering")
	}
}

type fetchFunc func(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error)

func (f fetchFunc) GetLastConversation(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error) {
	return f(ctx, roomID, before)
}
