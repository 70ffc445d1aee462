package oplog

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"collabCore/backend/internal/clock"
	"collabCore/backend/internal/op"
)

// 操作日志引擎接口
// 约定：同一文档的写调用由上层按文档串行化；跨文档完全并行
type Log interface {
	CreateDocument(docID string, initial map[string]any) error

	// ApplyOperation 接收本地或远端操作，返回可安全广播的操作和物化后的新状态。
	// 结构非法返回 ErrInvalidOperation；一旦入日志就不再因语义原因拒绝，冲突靠转换解决。
	ApplyOperation(docID string, operation *op.Operation, userID string) (*op.Operation, map[string]any, error)

	// GetDocumentState 按因果序重放全量历史后的物化树；幂等、无副作用
	GetDocumentState(docID string) (map[string]any, error)

	GetDocumentOperations(docID string) ([]*op.Operation, error)

	// OperationsSince 用于握手/追平：返回 lamport 大于 after 的已应用操作
	OperationsSince(docID string, after int64) ([]*op.Operation, error)
}

var ErrDocumentNotFound = errors.New("DOCUMENT_NOT_FOUND")

type docState struct {
	mu      sync.RWMutex
	base    map[string]any // 创建文档时的初始快照
	history []*op.Operation
	// 幂等窗口：按操作 ID 去重（远端重复投递直接忽略）
	seen    map[string]struct{}
	clock   clock.VectorClock
	lamport int64
}

// 内存实现：持有所有文档的操作日志
type InMemoryLog struct {
	mu   sync.RWMutex
	docs map[string]*docState
}

func NewInMemoryLog() *InMemoryLog {
	return &InMemoryLog{docs: make(map[string]*docState)}
}

func (l *InMemoryLog) CreateDocument(docID string, initial map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.docs[docID]; ok {
		return nil
	}
	l.docs[docID] = &docState{
		base:  deepCopyMap(initial),
		seen:  make(map[string]struct{}),
		clock: clock.New(),
	}
	return nil
}

func (l *InMemoryLog) getOrCreateDoc(docID string) *docState {
	l.mu.RLock()
	ds := l.docs[docID]
	l.mu.RUnlock()
	if ds != nil {
		return ds
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ds = l.docs[docID]; ds == nil {
		ds = &docState{
			base:  make(map[string]any),
			seen:  make(map[string]struct{}),
			clock: clock.New(),
		}
		l.docs[docID] = ds
	}
	return ds
}

func (l *InMemoryLog) getDoc(docID string) *docState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.docs[docID]
}

func (l *InMemoryLog) ApplyOperation(docID string, operation *op.Operation, userID string) (*op.Operation, map[string]any, error) {
	if operation == nil {
		return nil, nil, op.ErrInvalidOperation
	}
	applied := *operation
	if applied.UserID == "" {
		applied.UserID = userID
	}
	if err := applied.Validate(); err != nil {
		return nil, nil, err
	}

	ds := l.getOrCreateDoc(docID)
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if applied.ID == "" {
		// 本地新操作：推进本文档的时钟并补齐身份字段
		ds.lamport++
		ds.clock.Increment(applied.UserID)
		applied.Lamport = ds.lamport
		applied.Clock = ds.clock.Copy()
		// lamport 定宽补零，保证 ID 的字典序就是全序
		applied.ID = fmt.Sprintf("%020d:%s", applied.Lamport, applied.UserID)
	} else {
		// 远端操作：按 ID 幂等去重，然后吸收对方时钟
		if _, dup := ds.seen[applied.ID]; dup {
			state := materialize(ds)
			return &applied, state, nil
		}
		ds.clock.Merge(applied.Clock)
		if applied.Lamport > ds.lamport {
			ds.lamport = applied.Lamport
		}
	}
	if applied.At.IsZero() {
		applied.At = time.Now()
	}

	ds.seen[applied.ID] = struct{}{}
	ds.history = append(ds.history, &applied)

	state := materialize(ds)
	return &applied, state, nil
}

func (l *InMemoryLog) GetDocumentState(docID string) (map[string]any, error) {
	ds := l.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return materialize(ds), nil
}

func (l *InMemoryLog) GetDocumentOperations(docID string) ([]*op.Operation, error) {
	ds := l.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	out := make([]*op.Operation, len(ds.history))
	copy(out, ds.history)
	return out, nil
}

func (l *InMemoryLog) OperationsSince(docID string, after int64) ([]*op.Operation, error) {
	ds := l.getDoc(docID)
	if ds == nil {
		return nil, ErrDocumentNotFound
	}
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	var out []*op.Operation
	for _, o := range ds.history {
		if o.Lamport > after {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// materialize 从初始快照 + 全量历史重建文档树。
// 排序是确定性的全序（因果序的线性扩展），所以任何到达顺序都收敛到同一棵树。
// 调用方需持有 ds 的锁。
func materialize(ds *docState) map[string]any {
	ops := make([]*op.Operation, len(ds.history))
	copy(ops, ds.history)
	sort.Slice(ops, func(i, j int) bool { return ops[i].Before(ops[j]) })

	tree := deepCopyMap(ds.base)
	// 墓碑：path -> 删除它的操作。并发写输给删除；因果后于删除的写才能复活该路径
	tombs := make(map[string]*op.Operation)

	suppressed := func(o *op.Operation, path string) bool {
		for tombPath, tomb := range tombs {
			if op.SamePathOrChild(path, tombPath) && !o.Clock.Dominates(tomb.Clock) {
				return true
			}
		}
		return false
	}

	for _, o := range ops {
		switch o.Kind {
		case op.KindUpdate, op.KindReplace:
			if suppressed(o, o.Path) {
				continue // 软失败：历史保留，状态不动
			}
			setPath(tree, o.Path, o.Value)

		case op.KindInsert:
			if suppressed(o, o.Path) {
				continue
			}
			insertPath(tree, o.Path, o.Index, o.Value)

		case op.KindDelete:
			deletePath(tree, o.Path)
			tombs[o.Path] = o

		case op.KindMove:
			// move = 源路径 delete + 目标路径 insert，继承两者的规则
			val := o.Value
			if val == nil {
				if cur, ok := getPath(tree, o.Path); ok {
					val = cur
				}
			}
			if !suppressed(o, o.Path) {
				deletePath(tree, o.Path)
				tombs[o.Path] = o
			}
			if !suppressed(o, o.ToPath) {
				insertPath(tree, o.ToPath, o.Index, val)
			}
		}
	}
	return tree
}
