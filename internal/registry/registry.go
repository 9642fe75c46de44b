package registry

import (
	"facility_sync/internal/domain"
	"log"
	"sync"
	"time"
)

// Unsubscriber là phần của Change Bus mà Registry cần — tách interface để
// tránh phụ thuộc vòng và để test với fake.
type Unsubscriber interface {
	Unsubscribe(connectionID string)
}

type Connection struct {
	ID            string
	Topics        []domain.ResourceType
	ConnectedAt   time.Time
	LastHeartbeat time.Time
}

// ConnectionRegistry sở hữu tập connection đang sống và vòng đời của chúng.
// Connection không heartbeat trong khoảng timeout sẽ bị expire và unsubscribe
// khỏi bus — network partition / client crash trở thành cleanup có biên thay
// vì leak subscription.
type ConnectionRegistry struct {
	mu    sync.Mutex
	conns map[string]*Connection

	bus     Unsubscriber
	timeout time.Duration
}

func NewConnectionRegistry(bus Unsubscriber, heartbeatTimeout time.Duration) *ConnectionRegistry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	return &ConnectionRegistry{
		conns:   make(map[string]*Connection),
		bus:     bus,
		timeout: heartbeatTimeout,
	}
}

func (r *ConnectionRegistry) Register(connectionID string) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[connectionID]; exists {
		return
	}
	r.conns[connectionID] = &Connection{
		ID:            connectionID,
		ConnectedAt:   now,
		LastHeartbeat: now,
	}
}

func (r *ConnectionRegistry) SetTopics(connectionID string, topics []domain.ResourceType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connectionID]; ok {
		conn.Topics = topics
	}
}

// Heartbeat làm mới thời hạn sống của connection. Trả về false nếu connection
// không còn được biết đến (đã expire hoặc chưa register) — caller nên đóng.
func (r *ConnectionRegistry) Heartbeat(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	conn.LastHeartbeat = time.Now().UTC()
	return true
}

// Deregister gỡ connection chủ động (client đóng WebSocket) và unsubscribe
// khỏi bus. Idempotent.
func (r *ConnectionRegistry) Deregister(connectionID string) {
	r.mu.Lock()
	_, ok := r.conns[connectionID]
	delete(r.conns, connectionID)
	r.mu.Unlock()

	if ok {
		r.bus.Unsubscribe(connectionID)
	}
}

// ExpireStale gỡ mọi connection có heartbeat cuối cũ hơn now-timeout và
// unsubscribe chúng khỏi bus. Trả về danh sách ID đã expire.
func (r *ConnectionRegistry) ExpireStale(now time.Time) []string {
	cutoff := now.Add(-r.timeout)

	r.mu.Lock()
	var expired []string
	for id, conn := range r.conns {
		if conn.LastHeartbeat.Before(cutoff) {
			expired = append(expired, id)
			delete(r.conns, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.bus.Unsubscribe(id)
	}
	if len(expired) > 0 {
		log.Printf("ConnectionRegistry: Đã expire %d connection không heartbeat", len(expired))
	}
	return expired
}

func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
