package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
	"realtime-chat/internal/message"
	"realtime-chat/internal/security"
	"realtime-chat/internal/session"
)

// Frame drop reasons.
const (
	dropMalformed   = "malformed"
	dropInvalid     = "invalid"
	dropRateLimited = "rate_limited"
	dropUnknownRoom = "unknown_room"
	dropNotOpen     = "not_open"
	dropShutdown    = "shutdown"
)

// Broker authenticates WebSocket handshakes, relays inbound chat frames to
// every other open connection, and hands each message to the flush engine.
type Broker struct {
	sessions  *session.Manager
	engine    *message.FlushEngine
	hub       *Manager
	validator *security.InputValidator
	limiter   *security.RateLimiter
	upgrader  websocket.Upgrader
	config    config.WebSocketConfig
	sweep     time.Duration
	metrics   *config.ServerMetrics
}

// NewBroker creates a broker
func NewBroker(sessions *session.Manager, engine *message.FlushEngine, hub *Manager, cfg *config.ServerConfig, metrics *config.ServerMetrics) *Broker {
	if metrics == nil {
		metrics = config.NewNopMetrics()
	}
	b := &Broker{
		sessions:  sessions,
		engine:    engine,
		hub:       hub,
		validator: security.NewInputValidator(cfg.Security),
		limiter:   security.NewRateLimiter(cfg.Security),
		config:    cfg.WebSocket,
		sweep:     cfg.Security.RateLimitWindow,
		metrics:   metrics,
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.Security.AllowedOrigins),
	}
	return b
}

// originChecker allows the listed origins. With an empty list gorilla's
// same-host check applies.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// UpdateSecurity applies new input and rate limits to later frames.
func (b *Broker) UpdateSecurity(cfg config.SecurityConfig) {
	b.validator.SetConfig(cfg)
	b.limiter.SetConfig(cfg)
	log.Printf("🔄 Security limits updated: max_message_length=%d rate_limit=%d/%s",
		cfg.MaxMessageLength, cfg.RateLimitMessages, cfg.RateLimitWindow)
}

// Run sweeps idle rate limit buckets until ctx is done, then shuts the
// hub down.
func (b *Broker) Run(ctx context.Context) {
	interval := b.sweep
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.limiter.Sweep()
		case <-ctx.Done():
			b.hub.Shutdown()
			return
		}
	}
}

// HandleInboundConnection authenticates the handshake cookie and, on
// success, upgrades the request and starts the connection's pumps. A request
// without a live session is answered with 401 and never upgraded.
func (b *Broker) HandleInboundConnection(w http.ResponseWriter, r *http.Request) {
	s, err := b.sessions.Authenticate(r)
	if err != nil {
		b.metrics.Handshakes.WithLabelValues(config.HandshakeRejected).Inc()
		log.Printf("🚫 WebSocket handshake from %s %s: %v", r.RemoteAddr, StateRejected, err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.metrics.Handshakes.WithLabelValues(config.HandshakeRejected).Inc()
		log.Printf("❌ Failed to upgrade connection from %s: %v", r.RemoteAddr, err)
		return
	}

	conn := NewConnection(ws, s.Username, b.config.SendBuffer)
	conn.setState(StateAuthenticated)
	if !b.hub.Register(conn) {
		conn.setState(StateClosed)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(b.config.WriteTimeout))
		ws.Close()
		return
	}
	b.metrics.Handshakes.WithLabelValues(config.HandshakeAccepted).Inc()
	log.Printf("🔗 New WebSocket connection: %s (ID: %s, user: %s)", r.RemoteAddr, conn.ID, conn.Username)

	go b.writePump(conn)
	go b.readPump(conn)
}

// HandleInboundFrame processes one text frame from conn. Frames that cannot
// be relayed are dropped and reported through the returned error; the
// connection stays open either way.
func (b *Broker) HandleInboundFrame(conn *Connection, payload []byte) error {
	if conn.State() != StateOpen {
		b.metrics.MessagesDropped.WithLabelValues(dropNotOpen).Inc()
		return chaterr.Invalid("connection", "connection is "+conn.State().String())
	}

	var frame message.InboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		b.metrics.MessagesDropped.WithLabelValues(dropMalformed).Inc()
		return chaterr.Invalid("frame", err.Error())
	}
	if err := b.validator.ValidateRoomID(frame.RoomID); err != nil {
		b.metrics.MessagesDropped.WithLabelValues(dropInvalid).Inc()
		return err
	}
	if err := b.validator.ValidateMessageText(frame.Text); err != nil {
		b.metrics.MessagesDropped.WithLabelValues(dropInvalid).Inc()
		return err
	}
	if !b.limiter.Allow(conn.Username) {
		b.metrics.MessagesDropped.WithLabelValues(dropRateLimited).Inc()
		return chaterr.Invalid("text", "rate limit exceeded")
	}

	msg := message.Message{
		Username:  security.Sanitize(conn.Username),
		Text:      security.Sanitize(frame.Text),
		Sanitized: true,
	}

	_, err := b.engine.Append(context.Background(), frame.RoomID, msg, func(m message.Message) {
		out, err := json.Marshal(message.NewOutboundFrame(frame.RoomID, m))
		if err != nil {
			log.Printf("❌ Failed to encode broadcast frame: %v", err)
			return
		}
		b.hub.Broadcast(out, conn.ID)
	})

	if errors.Is(err, message.ErrEngineClosed) {
		b.metrics.MessagesDropped.WithLabelValues(dropShutdown).Inc()
		return err
	}
	var verr *chaterr.ValidationError
	if errors.As(err, &verr) {
		b.metrics.MessagesDropped.WithLabelValues(dropUnknownRoom).Inc()
		return err
	}
	b.metrics.MessagesReceived.Inc()
	return err
}

// readPump reads frames until the socket fails, then unregisters conn.
func (b *Broker) readPump(conn *Connection) {
	defer func() {
		b.hub.Unregister(conn)
		conn.conn.Close()
		log.Printf("🔌 Connection closed: %s (user: %s)", conn.ID, conn.Username)
	}()

	conn.conn.SetReadLimit(b.config.MaxFrameSize)
	conn.conn.SetReadDeadline(time.Now().Add(b.config.ReadTimeout))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(b.config.ReadTimeout))
	})

	for {
		messageType, payload, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("❌ WebSocket error from %s: %v", conn.ID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		if err := b.HandleInboundFrame(conn, payload); err != nil {
			log.Printf("⚠️ Frame from %s not relayed cleanly: %v", conn.Username, err)
		}
	}
}

// writePump drains the send queue and keeps the socket alive with pings.
func (b *Broker) writePump(conn *Connection) {
	ticker := time.NewTicker(b.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-conn.send:
			conn.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if !ok {
				conn.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("❌ Failed to send message to %s: %v", conn.ID, err)
				return
			}

		case <-ticker.C:
			conn.conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
