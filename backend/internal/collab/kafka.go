package collab

import (
	"time"

	"collabCore/backend/internal/op"
)

// OpAppliedEvent：操作被日志接受并转换后，发往 Kafka 的跨实例广播事件。
// 以 docId 做分区键，同一文档的事件保序
type OpAppliedEvent struct {
	EventType   string        `json:"eventType"` // 固定 "OP_APPLIED"
	WorkspaceID string        `json:"workspaceId"`
	DocID       string        `json:"docId"`
	OperationID string        `json:"operationId"`
	Version     uint64        `json:"version"` // 文档版本计数器（应用后）
	UserID      string        `json:"userId"`
	Operation   *op.Operation `json:"operation"`
	AppliedAt   time.Time     `json:"appliedAt"`
}
