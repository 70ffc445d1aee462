package op

import (
	"errors"
	"strings"
	"time"

	"collabCore/backend/internal/clock"
)

type Kind string

const (
	KindInsert  Kind = "insert"
	KindDelete  Kind = "delete"
	KindUpdate  Kind = "update"
	KindReplace Kind = "replace"
	KindMove    Kind = "move"
)

var ErrInvalidOperation = errors.New("INVALID_OPERATION")

// Operation 针对文档树的一次原子编辑。
// Path 为点分路径（如 "assumptions.wacc"）；一经创建不再修改，只会被后来的操作覆盖。
type Operation struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Path   string `json:"path"`
	Value  any    `json:"value,omitempty"`
	ToPath string `json:"toPath,omitempty"`   // move 的目标路径
	Index  int    `json:"index,omitempty"`    // insert 进列表节点时的位置
	UserID string `json:"userId"`
	// Lamport 标量时钟 + UserID 构成全序，用于并发操作的确定性平局
	Lamport int64             `json:"lamport"`
	Clock   clock.VectorClock `json:"clock"`
	At      time.Time         `json:"at"`
}

// Validate 只做结构校验；语义冲突不在这里拒绝，由日志转换解决
func (o *Operation) Validate() error {
	switch o.Kind {
	case KindInsert, KindDelete, KindUpdate, KindReplace, KindMove:
	default:
		return ErrInvalidOperation
	}
	if strings.TrimSpace(o.Path) == "" {
		return ErrInvalidOperation
	}
	if o.Kind == KindMove && strings.TrimSpace(o.ToPath) == "" {
		return ErrInvalidOperation
	}
	return nil
}

// Before 按 (lamport, userID, id) 全序比较，平局规则在所有副本上一致
func (o *Operation) Before(other *Operation) bool {
	if o.Lamport != other.Lamport {
		return o.Lamport < other.Lamport
	}
	if o.UserID != other.UserID {
		return o.UserID < other.UserID
	}
	return o.ID < other.ID
}

// SplitPath 拆点分路径
func SplitPath(path string) []string {
	return strings.Split(path, ".")
}

// SamePath 判断 a 是否等于 b 或是 b 的子路径（删除按子树生效时要用）
func SamePathOrChild(a, b string) bool {
	if a == b {
		return true
	}
	return strings.HasPrefix(a, b+".")
}
