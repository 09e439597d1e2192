// Command chatclient is a terminal client for the chat server.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"realtime-chat/internal/client"
	"realtime-chat/internal/message"
)

// render turns a message into printable username and text.
var render = client.PlainText

func main() {
	_ = godotenv.Load()

	server := pflag.StringP("server", "s", envOr("CHAT_SERVER", "http://localhost:3000"), "chat server URL")
	username := pflag.StringP("user", "u", os.Getenv("CHAT_USER"), "username")
	password := pflag.StringP("password", "p", os.Getenv("CHAT_PASSWORD"), "password")
	roomID := pflag.StringP("room", "r", "general", "room to join")
	asHTML := pflag.Bool("html", false, "print messages HTML-escaped")
	pflag.Parse()

	if *username == "" {
		log.Fatal("❌ --user is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *asHTML {
		render = client.DisplayText
	}
	if err := run(ctx, *server, *username, *password, *roomID); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ %v", err)
	}
}

func run(ctx context.Context, server, username, password, roomID string) error {
	svc, err := client.NewService(server, nil)
	if err != nil {
		return err
	}
	if err := svc.Login(ctx, username, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	lobby := client.NewLobby(svc)
	var current atomic.Value
	current.Store(roomID)
	lobby.OnNewRoom = func(r *client.Room) {
		r.OnNewMessage = func(m message.Message) {
			if r.ID == current.Load().(string) {
				printMessage(m)
			}
		}
	}

	rooms, err := svc.GetAllRooms(ctx)
	if err != nil {
		return err
	}
	lobby.Refresh(rooms)
	if lobby.GetRoom(roomID) == nil {
		return fmt.Errorf("room %q not found", roomID)
	}

	sock, err := client.Dial(ctx, svc.WebSocketURL(), svc.CookieHeader())
	if err != nil {
		return err
	}
	defer sock.Close()

	go func() {
		if err := sock.Run(ctx, lobby); err != nil && ctx.Err() == nil {
			log.Printf("🔌 Connection closed: %v", err)
		}
	}()

	showRoom(lobby.GetRoom(roomID))
	fmt.Println("Commands: /rooms, /join <id>, /new <name>, /more, /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		cmd, arg, _ := strings.Cut(line, " ")
		switch cmd {
		case "":
		case "/quit":
			return nil
		case "/rooms":
			rooms, err := svc.GetAllRooms(ctx)
			if err != nil {
				log.Printf("❌ %v", err)
				continue
			}
			lobby.Refresh(rooms)
			for _, r := range lobby.Rooms() {
				fmt.Printf("  %s\t%s\n", r.ID, r.Name())
			}
		case "/join":
			next := lobby.GetRoom(strings.TrimSpace(arg))
			if next == nil {
				fmt.Println("unknown room, try /rooms")
				continue
			}
			lobby.GetRoom(current.Load().(string)).Loader().Detach()
			current.Store(next.ID)
			showRoom(next)
		case "/new":
			created, err := svc.AddRoom(ctx, arg, "")
			if err != nil {
				log.Printf("❌ %v", err)
				continue
			}
			lobby.AddRoom(created.ID, created.Name, created.Image, nil)
			fmt.Printf("created %s (%s)\n", created.Name, created.ID)
		case "/more":
			block, err := lobby.GetRoom(current.Load().(string)).Loader().Advance(ctx)
			switch {
			case errors.Is(err, client.ErrHistoryExhausted) || (err == nil && block == nil):
				fmt.Println("-- start of history --")
			case err != nil:
				log.Printf("❌ %v", err)
			default:
				for _, m := range block.Messages {
					printMessage(m)
				}
				fmt.Println("-- older messages above --")
			}
		default:
			if err := sock.Send(ctx, current.Load().(string), line); err != nil {
				return fmt.Errorf("send failed: %w", err)
			}
		}
	}
}

func showRoom(r *client.Room) {
	fmt.Printf("== %s ==\n", r.Name())
	for _, m := range r.Messages() {
		printMessage(m)
	}
}

func printMessage(m message.Message) {
	username, text := render(m)
	fmt.Printf("%s: %s\n", username, text)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
