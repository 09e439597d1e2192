package client

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"realtime-chat/internal/message"
)

// Socket is the client's live message feed.
type Socket struct {
	conn *websocket.Conn
}

// Dial opens the WebSocket at wsURL presenting cookie in the handshake.
func Dial(ctx context.Context, wsURL, cookie string) (*Socket, error) {
	header := http.Header{}
	if cookie != "" {
		header.Set("Cookie", cookie)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("failed to dial %s: %w", wsURL, err)
	}
	return &Socket{conn: conn}, nil
}

// Send posts text to roomID. The server attaches the username.
func (s *Socket) Send(ctx context.Context, roomID, text string) error {
	return wsjson.Write(ctx, s.conn, message.InboundFrame{RoomID: roomID, Text: text})
}

// Run delivers incoming frames to their rooms in lobby until the socket
// closes or ctx is done. Frames for rooms the lobby does not know are
// skipped.
func (s *Socket) Run(ctx context.Context, lobby *Lobby) error {
	for {
		var frame message.OutboundFrame
		if err := wsjson.Read(ctx, s.conn, &frame); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return nil
			}
			return err
		}
		r := lobby.GetRoom(frame.RoomID)
		if r == nil {
			log.Printf("⚠️ Message for unknown room %s", frame.RoomID)
			continue
		}
		r.AddMessage(frame.Username, frame.Text, frame.Sanitized)
	}
}

// Close closes the socket normally.
func (s *Socket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
