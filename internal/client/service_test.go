package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"realtime-chat/internal/chat"
	"realtime-chat/internal/config"
	"realtime-chat/internal/message"
	"realtime-chat/internal/room"
	"realtime-chat/internal/security"
	"realtime-chat/internal/session"
	"realtime-chat/internal/user"
	chatws "realtime-chat/internal/websocket"
)

func newChatServer(t *testing.T) (*httptest.Server, *message.InMemoryRepository) {
	t.Helper()
	cfg := config.DefaultServerConfig()
	cfg.Buffer.Threshold = 2

	reg := prometheus.NewRegistry()
	metrics := config.NewServerMetrics(reg)
	sessions := session.NewManager(cfg.Session, metrics)
	users, err := user.NewSeededRepository(map[string]string{"alice": "secret", "bob": "hunter2"})
	if err != nil {
		t.Fatalf("seed users: %v", err)
	}
	registry := room.NewRegistry(room.NewInMemoryRepository(room.Room{ID: "general", Name: "General"}), security.NewInputValidator(cfg.Security))
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("load rooms: %v", err)
	}
	repo := message.NewInMemoryRepository()
	engine := message.NewFlushEngine(registry, repo, cfg.Buffer, metrics)
	history := message.NewHistoryService(repo, time.Second, metrics)
	hub := chatws.NewManager(metrics)
	broker := chatws.NewBroker(sessions, engine, hub, cfg, metrics)

	h := chat.NewHandler(sessions, registry, users, history, broker.HandleInboundConnection, chat.Options{Gatherer: reg})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return srv, repo
}

func loggedIn(t *testing.T, url, username, password string) *Service {
	t.Helper()
	svc, err := NewService(url, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Login(t.Context(), username, password); err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return svc
}

func TestServiceRejectsBadLogin(t *testing.T) {
	srv, _ := newChatServer(t)
	svc, err := NewService(srv.URL, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Login(t.Context(), "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, err := svc.GetAllRooms(t.Context()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without session, got %v", err)
	}
	if _, err := Dial(t.Context(), svc.WebSocketURL(), svc.CookieHeader()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized from socket, got %v", err)
	}
}

func TestServiceRooms(t *testing.T) {
	srv, _ := newChatServer(t)
	svc := loggedIn(t, srv.URL, "alice", "secret")

	name, err := svc.Profile(t.Context())
	if err != nil || name != "alice" {
		t.Fatalf("profile: %q, %v", name, err)
	}

	created, err := svc.AddRoom(t.Context(), "  Random  ", "/r.png")
	if err != nil {
		t.Fatalf("add room: %v", err)
	}
	if created.ID == "" || created.Name != "Random" {
		t.Fatalf("unexpected room %+v", created)
	}

	rooms, err := svc.GetAllRooms(t.Context())
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %d", len(rooms))
	}

	if _, err := svc.AddRoom(t.Context(), " ", ""); err == nil {
		t.Fatal("blank room name should be rejected")
	}
}

func TestChatRoundTrip(t *testing.T) {
	srv, repo := newChatServer(t)
	alice := loggedIn(t, srv.URL, "alice", "secret")
	bob := loggedIn(t, srv.URL, "bob", "hunter2")

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	rooms, err := bob.GetAllRooms(ctx)
	if err != nil {
		t.Fatalf("list rooms: %v", err)
	}
	lobby := NewLobby(bob)
	lobby.Refresh(rooms)
	general := lobby.GetRoom("general")
	if general == nil {
		t.Fatal("general room missing")
	}
	received := make(chan message.Message, 4)
	general.OnNewMessage = func(m message.Message) { received <- m }

	bobSock, err := Dial(ctx, bob.WebSocketURL(), bob.CookieHeader())
	if err != nil {
		t.Fatalf("bob dial: %v", err)
	}
	defer bobSock.Close()
	go bobSock.Run(ctx, lobby)

	aliceSock, err := Dial(ctx, alice.WebSocketURL(), alice.CookieHeader())
	if err != nil {
		t.Fatalf("alice dial: %v", err)
	}
	defer aliceSock.Close()

	for _, text := range []string{"hello <b>bob</b>", "second"} {
		if err := aliceSock.Send(ctx, "general", text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	for _, want := range []string{"hello &lt;b&gt;bob&lt;&#x2F;b&gt;", "second"} {
		select {
		case m := <-received:
			if m.Username != "alice" || m.Text != want || !m.Sanitized {
				t.Fatalf("unexpected message %+v", m)
			}
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	for repo.Count("general") == 0 {
		if ctx.Err() != nil {
			t.Fatal("buffer was never flushed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(5 * time.Millisecond)

	// A client joining after the flush pages the block back in.
	late := NewLobby(bob)
	late.Refresh(rooms)
	loader := late.GetRoom("general").Loader()

	b, err := loader.Advance(ctx)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if b == nil || len(b.Messages) != 2 || b.Messages[1].Text != "second" {
		t.Fatalf("unexpected block %+v", b)
	}
	if b, err := loader.Advance(ctx); b != nil || err != nil {
		t.Fatalf("expected end of history, got %+v, %v", b, err)
	}
	if got := late.GetRoom("general").Messages(); len(got) != 2 {
		t.Fatalf("expected the block rendered, got %d messages", len(got))
	}
}
