package ws

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/presence"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h       *Hub
	dir     *directory.Directory
	tracker *presence.Tracker
	sem     *collab.SemaphoreControl
}

func NewManager(h *Hub, dir *directory.Directory, tracker *presence.Tracker, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, dir: dir, tracker: tracker, sem: sem}
}

func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetString("userId")
	username := c.GetString("username")
	if userID == "" {
		c.String(http.StatusUnauthorized, "missing user identity")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, userID, username, m.dir, m.tracker, m.sem)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.enqueue(ServerMessage{Type: "welcome", Content: "connected as " + username})

	// 支持通过查询参数直接入房（也可以后续用 join_document 切换）
	if docID := c.Query("docId"); docID != "" && m.dir.CanAccess(docID, userID) {
		wsConn.docID = docID
		wsConn.workspaceID = c.Query("workspaceId")
		m.h.Join(docID, wsConn)
	}

	// 最后再进入读循环（阻塞至连接关闭）
	wsConn.readLoop(c.Request.Context())
}
