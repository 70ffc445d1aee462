package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/directory"
	"collabCore/backend/internal/presence"
)

// presence 心跳在 redis 侧的保活时长
const presenceTTL = 600 * time.Second

type Conn struct {
	ws          *websocket.Conn
	hub         *Hub
	workspaceID string
	docID       string
	userID      string
	username    string
	// 出站消息队列，writeLoop 消费。
	// 广播方（hub）和读循环的收尾会并发碰这条通道，关闭要挂锁
	send       chan OutboundMessage
	sendMu     sync.Mutex
	sendClosed bool

	dir     *directory.Directory
	tracker *presence.Tracker
	sem     *collab.SemaphoreControl
}

type OutboundMessage interface {
	MessageType() string
}

func (m ServerMessage) MessageType() string      { return m.Type }
func (m OpBroadcastMessage) MessageType() string { return m.Type }
func (m OpAppliedMessage) MessageType() string   { return m.Type }
func (m SyncMessage) MessageType() string        { return m.Type }

func NewConn(ws *websocket.Conn, hub *Hub, userID, username string, dir *directory.Directory, tracker *presence.Tracker, sem *collab.SemaphoreControl) *Conn {
	return &Conn{
		ws:       ws,
		hub:      hub,
		userID:   userID,
		username: username,
		send:     make(chan OutboundMessage, 32),
		dir:      dir,
		tracker:  tracker,
		sem:      sem,
	}
}

// enqueue 非阻塞入队；队列满了丢消息（慢消费者不拖垮广播）
func (c *Conn) enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Conn) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Conn) handleOpSubmit(ctx context.Context, msg ClientMessage) {
	submitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(submitCtx); err != nil {
		c.enqueue(ServerMessage{Type: "error", Content: err.Error()})
		return
	}
	defer c.sem.Release()

	applied, state, err := c.dir.ApplyEdit(submitCtx, msg.DocID, msg.Operation, c.userID)
	if err != nil {
		// 校验错误只回给发起方，其他协作者不感知
		c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: err.Error()})
		return
	}
	doc, err := c.dir.GetDocument(msg.DocID)
	if err != nil {
		c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: err.Error()})
		return
	}
	c.enqueue(OpAppliedMessage{
		Type:        "op_applied",
		DocID:       msg.DocID,
		OperationID: applied.ID,
		Version:     doc.Version,
		State:       state,
	})
	c.hub.BroadcastOp(msg.DocID, c, OpBroadcastMessage{
		Type:      "op_broadcast",
		DocID:     msg.DocID,
		UserID:    c.userID,
		Version:   doc.Version,
		Operation: applied,
		AppliedAt: time.Now(),
	})
}

func (c *Conn) handleHeartbeat(ctx context.Context, msg ClientMessage) {
	status := presence.StatusActive
	if msg.Activity != "" {
		status = presence.StatusEditing
	}
	c.tracker.UpdatePresence(c.userID, presence.Update{
		Status:      status,
		WorkspaceID: c.workspaceID,
		DocumentID:  c.docID,
		Activity:    msg.Activity,
	})
	if c.hub.presence != nil {
		if err := c.hub.presence.Touch(ctx, c.workspaceID, c.docID, c.userID, presenceTTL); err != nil {
			log.Printf("presence touch error: %v", err)
		}
	}
	if c.docID != "" {
		c.hub.BroadcastPresence(c.docID, c.tracker.GetDocumentPresence(c.docID))
	}
	c.enqueue(ServerMessage{Type: "feedback", Content: "heartbeat received"})
}

func (c *Conn) handleCursor(ctx context.Context, msg ClientMessage) {
	docID := msg.DocID
	if docID == "" {
		return
	}
	cur := c.dir.RecordCursor(docID, c.userID, msg.Position, msg.Selection)
	if c.hub.presence != nil {
		if raw, err := cursorJSON(cur); err == nil {
			_ = c.hub.presence.SetCursor(ctx, docID, c.userID, raw, presenceTTL)
		}
	}
	c.hub.BroadcastCursor(docID, c, cur)
}

func (c *Conn) readLoop(ctx context.Context) {
	defer func() {
		if c.docID != "" {
			c.hub.Leave(c.docID, c)
		}
		// 显式断连：presence 记录和光标一并移除
		c.tracker.Disconnect(c.userID)
		c.closeSend()
	}()

	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%s, doc=%s): %v", c.userID, c.docID, err)
			return
		}
		// 文档级消息缺省指向当前已加入的文档
		if msg.DocID == "" && msg.Type != "join_document" {
			msg.DocID = c.docID
		}
		switch msg.Type {
		case "heartbeat":
			c.handleHeartbeat(ctx, msg)

		case "join_document":
			if msg.DocID == "" {
				c.enqueue(ServerMessage{Type: "error", Content: "MISSING_DOC_ID"})
				continue
			}
			if !c.dir.CanAccess(msg.DocID, c.userID) {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: "UNAUTHORIZED"})
				continue
			}
			// 动态换房间：先离开旧的
			if c.docID != "" && c.docID != msg.DocID {
				c.hub.Leave(c.docID, c)
			}
			c.docID = msg.DocID
			if msg.WorkspaceID != "" {
				c.workspaceID = msg.WorkspaceID
			}
			c.hub.Join(c.docID, c)
			c.tracker.UpdatePresence(c.userID, presence.Update{
				Status:      presence.StatusActive,
				WorkspaceID: c.workspaceID,
				DocumentID:  c.docID,
			})
			c.enqueue(ServerMessage{Type: "join_document", DocID: c.docID, Content: "joined by " + c.username})

		case "op_submit":
			c.handleOpSubmit(ctx, msg)

		case "cursor":
			c.handleCursor(ctx, msg)

		case "sync":
			ops, err := c.dir.OperationsSince(msg.DocID, msg.AfterLamport)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: err.Error()})
				continue
			}
			c.enqueue(SyncMessage{Type: "sync", DocID: msg.DocID, Operations: ops})

		case "load_state":
			state, err := c.dir.GetDocumentState(msg.DocID)
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: err.Error()})
				continue
			}
			doc, _ := c.dir.GetDocument(msg.DocID)
			out := ServerMessage{Type: "load_state", DocID: msg.DocID, State: state}
			if doc != nil {
				out.Version = doc.Version
			}
			c.enqueue(out)

		case "snapshot":
			commit, err := c.dir.SnapshotToRepository(msg.DocID, c.userID, msg.Message, "manual")
			if err != nil {
				c.enqueue(ServerMessage{Type: "error", DocID: msg.DocID, Content: err.Error()})
				continue
			}
			c.enqueue(ServerMessage{Type: "snapshot", DocID: msg.DocID, Content: commit.ID})

		default:
			c.enqueue(ServerMessage{Type: "ignored", Content: "unknown message type"})
		}
	}
}

func cursorJSON(cur *presence.Cursor) ([]byte, error) {
	return json.Marshal(cur)
}

func (c *Conn) writeLoop() {
	// 持续消费出站队列直到连接关闭
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
