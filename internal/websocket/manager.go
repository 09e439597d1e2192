package websocket

import (
	"log"
	"sync"

	"realtime-chat/internal/config"
)

// Manager is the hub of open connections.
type Manager struct {
	connections map[string]*Connection
	mutex       sync.RWMutex
	closed      bool
	metrics     *config.ServerMetrics
}

// NewManager creates a new connection hub
func NewManager(metrics *config.ServerMetrics) *Manager {
	if metrics == nil {
		metrics = config.NewNopMetrics()
	}
	return &Manager{
		connections: make(map[string]*Connection),
		metrics:     metrics,
	}
}

// Register marks conn OPEN and adds it to the hub. It returns false once the
// hub has shut down.
func (m *Manager) Register(conn *Connection) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return false
	}
	conn.setState(StateOpen)
	m.connections[conn.ID] = conn
	m.metrics.ActiveConnections.Inc()
	log.Printf("📝 Connection registered: %s as %s (Total: %d)", conn.ID, conn.Username, len(m.connections))
	return true
}

// Unregister removes conn and closes its send queue. Calling it again is a
// no-op.
func (m *Manager) Unregister(conn *Connection) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.connections[conn.ID]; !ok {
		return
	}
	m.removeLocked(conn)
	log.Printf("🗑️ Connection unregistered: %s (Total: %d)", conn.ID, len(m.connections))
}

// Broadcast offers payload to every open connection except excludeID. Peers
// whose queue is full are skipped. Delivery order per peer follows call order.
func (m *Manager) Broadcast(payload []byte, excludeID string) (sent, skipped int) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for id, conn := range m.connections {
		if id == excludeID {
			continue
		}
		if conn.enqueue(payload) {
			sent++
		} else {
			skipped++
		}
	}
	if skipped > 0 {
		m.metrics.BroadcastSkipped.Add(float64(skipped))
	}
	log.Printf("📡 Broadcasted message to %d connections (excluded: %s, skipped: %d)", sent, excludeID, skipped)
	return sent, skipped
}

// Count returns the number of open connections
func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.connections)
}

// Shutdown closes every connection's send queue, which makes each write pump
// send a close frame. Later registrations are refused.
func (m *Manager) Shutdown() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.closed = true
	n := len(m.connections)
	for _, conn := range m.connections {
		m.removeLocked(conn)
	}
	log.Printf("👋 Hub closed %d connections", n)
}

func (m *Manager) removeLocked(conn *Connection) {
	delete(m.connections, conn.ID)
	conn.setState(StateClosed)
	close(conn.send)
	m.metrics.ActiveConnections.Dec()
}
