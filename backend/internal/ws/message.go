package ws

import (
	"time"

	"collabCore/backend/internal/op"
	"collabCore/backend/internal/presence"
)

type ClientMessage struct {
	Type        string `json:"type"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	DocID       string `json:"docId,omitempty"`
	// op_submit
	Operation *op.Operation `json:"operation,omitempty"`
	// cursor
	Position  any `json:"position,omitempty"`
	Selection any `json:"selection,omitempty"`
	// sync：客户端已知的最大 lamport，用于追平
	AfterLamport int64 `json:"afterLamport,omitempty"`
	// snapshot
	Message string `json:"message,omitempty"`
	// presence 心跳附带的活动标签
	Activity string `json:"activity,omitempty"`
}

type ServerMessage struct {
	Type    string            `json:"type"`
	DocID   string            `json:"docId,omitempty"`
	UserID  string            `json:"userId,omitempty"`
	Content string            `json:"content,omitempty"`
	Members []presence.Record `json:"members,omitempty"`
	Cursor  *presence.Cursor  `json:"cursor,omitempty"`
	State   map[string]any    `json:"state,omitempty"`
	Version uint64            `json:"version,omitempty"`
}

// 广播给同文档房间内其他连接的“已应用操作”事件。
// 与发起方收到的 op_applied(ack) 区分：这里是推送给其他协作者
type OpBroadcastMessage struct {
	Type      string        `json:"type"` // 固定 "op_broadcast"
	DocID     string        `json:"docId"`
	UserID    string        `json:"userId"`
	Version   uint64        `json:"version"`
	Operation *op.Operation `json:"operation"`
	AppliedAt time.Time     `json:"appliedAt,omitempty"`
}

type OpAppliedMessage struct {
	Type        string         `json:"type"` // 固定 "op_applied"
	DocID       string         `json:"docId"`
	OperationID string         `json:"operationId"`
	Version     uint64         `json:"version"`
	State       map[string]any `json:"state,omitempty"`
}

type SyncMessage struct {
	Type       string          `json:"type"` // 固定 "sync"
	DocID      string          `json:"docId"`
	Operations []*op.Operation `json:"operations"`
}
