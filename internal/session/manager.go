// Package session issues and validates the opaque tokens that bind a browser
// or WebSocket handshake to a username.
//
// Sessions have a fixed lifetime: each one is destroyed by a one-shot timer
// scheduled at creation, and validation never extends it. The token map is
// only reachable through Manager's methods.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/config"
)

// tokenBytes gives 192 bits of entropy per token.
const tokenBytes = 24

// Session is a live login.
type Session struct {
	Token     string
	Username  string
	CreatedAt time.Time
	MaxAge    time.Duration
}

type entry struct {
	session Session
	timer   *time.Timer
}

// Manager owns all live sessions.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*entry
	cookieName string
	maxAge     time.Duration
	metrics    *config.ServerMetrics
}

// NewManager creates a session manager using the cookie name and default
// lifetime from cfg.
func NewManager(cfg config.SessionConfig, metrics *config.ServerMetrics) *Manager {
	if metrics == nil {
		metrics = config.NewNopMetrics()
	}
	return &Manager{
		sessions:   make(map[string]*entry),
		cookieName: cfg.CookieName,
		maxAge:     cfg.MaxAge,
		metrics:    metrics,
	}
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// CreateSession starts a session for username and, when w is non-nil, sets
// the session cookie on the response. A non-positive maxAge uses the
// configured default.
func (m *Manager) CreateSession(w http.ResponseWriter, username string, maxAge time.Duration) (string, error) {
	if maxAge <= 0 {
		maxAge = m.maxAge
	}

	m.mu.Lock()
	token, err := m.newTokenLocked()
	if err != nil {
		m.mu.Unlock()
		return "", err
	}
	e := &entry{session: Session{
		Token:     token,
		Username:  username,
		CreatedAt: time.Now(),
		MaxAge:    maxAge,
	}}
	e.timer = time.AfterFunc(maxAge, func() { m.expire(token, e) })
	m.sessions[token] = e
	m.mu.Unlock()

	m.metrics.SessionsActive.Inc()
	if w != nil {
		http.SetCookie(w, m.Cookie(token, maxAge))
	}
	log.Printf("🔑 Session created for %s (expires in %s)", username, maxAge)
	return token, nil
}

// Cookie builds the session cookie carrying token.
func (m *Manager) Cookie(token string, maxAge time.Duration) *http.Cookie {
	seconds := int((maxAge + time.Second - 1) / time.Second)
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   seconds,
		Expires:  time.Now().Add(maxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie returns a cookie that deletes the session cookie in the browser.
func (m *Manager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	}
}

// Validate returns the username bound to token.
func (m *Manager) Validate(token string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[token]
	if !ok {
		return "", false
	}
	return e.session.Username, true
}

// Lookup returns a copy of the session for token.
func (m *Manager) Lookup(token string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.sessions[token]
	if !ok {
		return Session{}, false
	}
	return e.session, true
}

// DestroySession invalidates token. Destroying an unknown token is a no-op.
func (m *Manager) DestroySession(token string) {
	m.mu.Lock()
	e, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
		e.timer.Stop()
	}
	m.mu.Unlock()

	if ok {
		m.metrics.SessionsActive.Dec()
		log.Printf("👋 Session destroyed for %s", e.session.Username)
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// expire removes the session only if it is still the entry the timer was
// scheduled for.
func (m *Manager) expire(token string, scheduled *entry) {
	m.mu.Lock()
	e, ok := m.sessions[token]
	if ok && e == scheduled {
		delete(m.sessions, token)
	}
	m.mu.Unlock()

	if ok && e == scheduled {
		m.metrics.SessionsActive.Dec()
		log.Printf("⌛ Session expired for %s", e.session.Username)
	}
}

// newTokenLocked draws a token not held by any live session. At 192 bits a
// repeat of an already destroyed token is not a practical concern. Must hold m.mu.
func (m *Manager) newTokenLocked() (string, error) {
	for {
		var b [tokenBytes]byte
		if _, err := rand.Read(b[:]); err != nil {
			return "", fmt.Errorf("failed to generate session token: %w", err)
		}
		token := hex.EncodeToString(b[:])
		if _, used := m.sessions[token]; !used {
			return token, nil
		}
	}
}

// Authenticate resolves the session cookie on r.
func (m *Manager) Authenticate(r *http.Request) (Session, error) {
	return m.AuthenticateHeader(r.Header)
}

// AuthenticateHeader resolves the session cookie found in h. It is used for
// both plain requests and WebSocket handshakes.
func (m *Manager) AuthenticateHeader(h http.Header) (Session, error) {
	lines := h.Values("Cookie")
	if len(lines) == 0 {
		return Session{}, chaterr.Auth("no cookie header")
	}
	token, err := m.tokenFromCookies(lines)
	if err != nil {
		return Session{}, err
	}
	s, ok := m.Lookup(token)
	if !ok {
		return Session{}, chaterr.Auth("unknown or expired session")
	}
	return s, nil
}

func (m *Manager) tokenFromCookies(lines []string) (string, error) {
	for _, line := range lines {
		cookies, err := http.ParseCookie(line)
		if err != nil {
			continue
		}
		for _, c := range cookies {
			if c.Name != m.cookieName {
				continue
			}
			if c.Value == "" {
				return "", chaterr.Auth("empty session cookie")
			}
			return c.Value, nil
		}
	}
	return "", chaterr.Auth("session cookie missing or malformed")
}
