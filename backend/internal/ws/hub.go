package ws

import (
	"sync"

	"collabCore/backend/internal/cache"
	"collabCore/backend/internal/presence"
)

type Hub struct {
	// 共享 presence 落地（redis），多实例间同步在线状态
	presence cache.PresenceCache
	// 保护 rooms：加入/离开/广播都会并发进来
	mu sync.RWMutex
	// docID -> 房间内的连接集合。
	// 存连接不存 userID：一个用户可开多个标签页，广播要逐连接发
	rooms map[string]map[*Conn]struct{}
}

func NewHub(p cache.PresenceCache) *Hub {
	return &Hub{presence: p, rooms: make(map[string]map[*Conn]struct{})}
}

func (h *Hub) Join(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[docID] == nil {
		h.rooms[docID] = make(map[*Conn]struct{})
	}
	h.rooms[docID][c] = struct{}{}
}

func (h *Hub) Leave(docID string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[docID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, docID)
		}
	}
}

// BroadcastOp：把已应用的操作推给房间内除发起连接外的所有连接
func (h *Hub) BroadcastOp(docID string, from *Conn, msg OpBroadcastMessage) {
	h.mu.RLock()
	conns := h.rooms[docID]
	h.mu.RUnlock()
	for c := range conns {
		if c == from {
			continue
		}
		c.enqueue(msg)
	}
}

func (h *Hub) BroadcastPresence(docID string, members []presence.Record) {
	h.mu.RLock()
	conns := h.rooms[docID]
	h.mu.RUnlock()
	msg := ServerMessage{Type: "presence", DocID: docID, Members: members}
	for c := range conns {
		c.enqueue(msg)
	}
}

func (h *Hub) BroadcastCursor(docID string, from *Conn, cursor *presence.Cursor) {
	h.mu.RLock()
	conns := h.rooms[docID]
	h.mu.RUnlock()
	msg := ServerMessage{Type: "cursor", DocID: docID, UserID: cursor.UserID, Cursor: cursor}
	for c := range conns {
		if c == from {
			continue
		}
		c.enqueue(msg)
	}
}
