// Package client is a Go client for the chat server: an HTTP service client,
// a WebSocket feed, the lobby and room model, and the backward history loader.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"realtime-chat/internal/message"
	"realtime-chat/internal/room"
)

// ErrUnauthorized is returned when the server rejects the session or the
// login credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Service talks to the chat server's HTTP API with a cookie-carrying client.
type Service struct {
	base *url.URL
	http *http.Client
}

// NewService creates a client for the server at baseURL. A nil httpClient
// gets a fresh cookie jar and a 10s timeout.
func NewService(baseURL string, httpClient *http.Client) (*Service, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", baseURL, err)
	}
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	}
	return &Service{base: base, http: httpClient}, nil
}

// Login authenticates and stores the session cookie in the client's jar.
func (s *Service) Login(ctx context.Context, username, password string) error {
	body := map[string]string{"username": username, "password": password}
	return s.do(ctx, http.MethodPost, "/login", body, nil)
}

// Profile returns the username bound to the current session.
func (s *Service) Profile(ctx context.Context) (string, error) {
	var out struct {
		Username string `json:"username"`
	}
	if err := s.do(ctx, http.MethodGet, "/profile", nil, &out); err != nil {
		return "", err
	}
	return out.Username, nil
}

// GetAllRooms lists rooms with their unflushed messages.
func (s *Service) GetAllRooms(ctx context.Context) ([]room.Summary, error) {
	var rooms []room.Summary
	if err := s.do(ctx, http.MethodGet, "/chat", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// AddRoom creates a room.
func (s *Service) AddRoom(ctx context.Context, name, image string) (room.Room, error) {
	var created room.Room
	body := map[string]string{"name": name, "image": image}
	if err := s.do(ctx, http.MethodPost, "/chat", body, &created); err != nil {
		return room.Room{}, err
	}
	return created, nil
}

// GetLastConversation fetches the room's newest block older than before. A
// nil block means there is no older history.
func (s *Service) GetLastConversation(ctx context.Context, roomID string, before int64) (*message.ConversationBlock, error) {
	path := "/chat/" + url.PathEscape(roomID) + "/messages?before=" + strconv.FormatInt(before, 10)
	var block *message.ConversationBlock
	if err := s.do(ctx, http.MethodGet, path, nil, &block); err != nil {
		return nil, err
	}
	return block, nil
}

// CookieHeader returns the Cookie header the jar would send to the server,
// for use in the WebSocket handshake.
func (s *Service) CookieHeader() string {
	if s.http.Jar == nil {
		return ""
	}
	parts := make([]string, 0, 1)
	for _, c := range s.http.Jar.Cookies(s.base) {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// WebSocketURL returns the ws:// or wss:// address of the server's socket.
func (s *Service) WebSocketURL() string {
	u := *s.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

func (s *Service) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
