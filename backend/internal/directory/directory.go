package directory

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"collabCore/backend/internal/collab"
	"collabCore/backend/internal/events"
	"collabCore/backend/internal/op"
	"collabCore/backend/internal/oplog"
	"collabCore/backend/internal/presence"
	"collabCore/backend/internal/vcs"
)

var (
	ErrWorkspaceNotFound = errors.New("WORKSPACE_NOT_FOUND")
	ErrDocumentNotFound  = errors.New("DOCUMENT_NOT_FOUND")
	ErrUnauthorized      = errors.New("UNAUTHORIZED")
)

type Role string

const (
	RoleRead  Role = "read"
	RoleWrite Role = "write"
	RoleAdmin Role = "admin"
)

type Workspace struct {
	ID        string              `json:"id"`
	Name      string              `json:"name"`
	Members   map[string]struct{} `json:"-"`
	Read      map[string]struct{} `json:"-"`
	Write     map[string]struct{} `json:"-"`
	Admin     map[string]struct{} `json:"-"`
	Documents map[string]struct{} `json:"-"`
	CreatedAt time.Time           `json:"createdAt"`
}

type Document struct {
	ID          string              `json:"id"`
	WorkspaceID string              `json:"workspaceId"`
	Version     uint64              `json:"version"` // 每次成功应用操作递增
	Members     map[string]struct{} `json:"-"`
	// userID -> 最近一次已知光标
	Cursors   map[string]*presence.Cursor `json:"-"`
	CreatedAt time.Time                   `json:"createdAt"`
}

// MetaStore：工作区/文档元数据的落库接口（尽力而为的 write-through）
type MetaStore interface {
	SaveWorkspace(ctx context.Context, id, name string) error
	SaveDocument(ctx context.Context, id, workspaceID string) error
}

// Directory 负责成员与权限，把编辑路由进操作日志，并把结果扇出给协作方。
// 它是唯一同时接触 oplog、presence、vcs 的组件；三者之间互不感知
type Directory struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
	documents  map[string]*Document

	log        oplog.Log
	tracker    *presence.Tracker
	bus        *events.Bus
	dispatcher *collab.KafkaDispatcher // 可空：单实例部署无 Kafka
	repos      *vcs.Store
	meta       MetaStore // 可空
}

func New(log oplog.Log, tracker *presence.Tracker, bus *events.Bus, dispatcher *collab.KafkaDispatcher, repos *vcs.Store, meta MetaStore) *Directory {
	return &Directory{
		workspaces: make(map[string]*Workspace),
		documents:  make(map[string]*Document),
		log:        log,
		tracker:    tracker,
		bus:        bus,
		dispatcher: dispatcher,
		repos:      repos,
		meta:       meta,
	}
}

func (d *Directory) CreateWorkspace(ctx context.Context, name, ownerID string) (*Workspace, error) {
	ws := &Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		Members:   map[string]struct{}{ownerID: {}},
		Read:      map[string]struct{}{ownerID: {}},
		Write:     map[string]struct{}{ownerID: {}},
		Admin:     map[string]struct{}{ownerID: {}},
		Documents: make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	d.mu.Lock()
	d.workspaces[ws.ID] = ws
	d.mu.Unlock()

	if d.meta != nil {
		// 元数据落库失败不回滚内存状态，只能靠下次写覆盖
		_ = d.meta.SaveWorkspace(ctx, ws.ID, ws.Name)
	}
	return ws, nil
}

func (d *Directory) DeleteWorkspace(workspaceID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		return ErrWorkspaceNotFound
	}
	if _, ok := ws.Admin[userID]; !ok {
		return ErrUnauthorized
	}
	for docID := range ws.Documents {
		delete(d.documents, docID)
	}
	delete(d.workspaces, workspaceID)
	return nil
}

// JoinWorkspace：自助加入，默认读写权限
func (d *Directory) JoinWorkspace(workspaceID, userID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		return ErrWorkspaceNotFound
	}
	ws.Members[userID] = struct{}{}
	ws.Read[userID] = struct{}{}
	ws.Write[userID] = struct{}{}
	if d.bus != nil {
		d.bus.Publish(events.TypeMemberJoined, map[string]string{"workspaceId": workspaceID, "userId": userID})
	}
	return nil
}

// Invite：邀请人必须是 admin；role 决定被邀请人落在哪些权限集合
func (d *Directory) Invite(workspaceID, inviterID, inviteeID string, role Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		return ErrWorkspaceNotFound
	}
	if _, ok := ws.Admin[inviterID]; !ok {
		return ErrUnauthorized
	}
	ws.Members[inviteeID] = struct{}{}
	ws.Read[inviteeID] = struct{}{}
	switch role {
	case RoleAdmin:
		ws.Admin[inviteeID] = struct{}{}
		ws.Write[inviteeID] = struct{}{}
	case RoleWrite:
		ws.Write[inviteeID] = struct{}{}
	default:
		// 拼错的 role 不能悄悄变成写权限，按只读收
	}
	return nil
}

func (d *Directory) CreateDocument(ctx context.Context, workspaceID, userID string, initial map[string]any) (*Document, error) {
	d.mu.Lock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		d.mu.Unlock()
		return nil, ErrWorkspaceNotFound
	}
	if !canWrite(ws, userID) {
		d.mu.Unlock()
		return nil, ErrUnauthorized
	}
	doc := &Document{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Members:     map[string]struct{}{userID: {}},
		Cursors:     make(map[string]*presence.Cursor),
		CreatedAt:   time.Now(),
	}
	d.documents[doc.ID] = doc
	ws.Documents[doc.ID] = struct{}{}
	d.mu.Unlock()

	if err := d.log.CreateDocument(doc.ID, initial); err != nil {
		return nil, err
	}
	if d.meta != nil {
		_ = d.meta.SaveDocument(ctx, doc.ID, workspaceID)
	}
	return doc, nil
}

// ApplyEdit：权限校验 -> 操作日志转换应用 -> 版本推进 -> 扇出。
// 返回值可直接广播给其他协作方；presence 不参与也不阻塞这条链路
func (d *Directory) ApplyEdit(ctx context.Context, docID string, operation *op.Operation, userID string) (*op.Operation, map[string]any, error) {
	d.mu.Lock()
	doc := d.documents[docID]
	if doc == nil {
		d.mu.Unlock()
		return nil, nil, ErrDocumentNotFound
	}
	ws := d.workspaces[doc.WorkspaceID]
	if ws == nil {
		d.mu.Unlock()
		return nil, nil, ErrWorkspaceNotFound
	}
	if !canWrite(ws, userID) {
		d.mu.Unlock()
		return nil, nil, ErrUnauthorized
	}
	doc.Members[userID] = struct{}{}
	d.mu.Unlock()

	applied, state, err := d.log.ApplyOperation(docID, operation, userID)
	if err != nil {
		return nil, nil, err
	}

	d.mu.Lock()
	doc.Version++
	version := doc.Version
	workspaceID := doc.WorkspaceID
	d.mu.Unlock()

	evt := collab.OpAppliedEvent{
		EventType:   "OP_APPLIED",
		WorkspaceID: workspaceID,
		DocID:       docID,
		OperationID: applied.ID,
		Version:     version,
		UserID:      userID,
		Operation:   applied,
		AppliedAt:   time.Now(),
	}
	if d.bus != nil {
		d.bus.Publish(events.TypeOpApplied, evt)
	}
	if d.dispatcher != nil {
		if ok := d.dispatcher.TryEnqueue(evt); !ok {
			// 跨实例广播丢了可以靠追平接口补
			log.Printf("kafka queue full, drop op event doc=%s op=%s", docID, applied.ID)
		}
	}
	return applied, state, nil
}

// GetDocument 返回快照副本。HTTP/ws 宿主拿到之后随便读，
// 不用跟 ApplyEdit 抢目录锁
func (d *Directory) GetDocument(docID string) (*Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc := d.documents[docID]
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	out := *doc
	out.Members = copySet(doc.Members)
	// 光标对象每次更新都是整体替换，浅拷贝 map 即可
	out.Cursors = make(map[string]*presence.Cursor, len(doc.Cursors))
	for id, cur := range doc.Cursors {
		out.Cursors[id] = cur
	}
	return &out, nil
}

// GetWorkspace 同 GetDocument：返回快照，成员集合全部拷贝
func (d *Directory) GetWorkspace(workspaceID string) (*Workspace, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ws := d.workspaces[workspaceID]
	if ws == nil {
		return nil, ErrWorkspaceNotFound
	}
	out := *ws
	out.Members = copySet(ws.Members)
	out.Read = copySet(ws.Read)
	out.Write = copySet(ws.Write)
	out.Admin = copySet(ws.Admin)
	out.Documents = copySet(ws.Documents)
	return &out, nil
}

func copySet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func (d *Directory) GetDocumentState(docID string) (map[string]any, error) {
	if _, err := d.GetDocument(docID); err != nil {
		return nil, err
	}
	return d.log.GetDocumentState(docID)
}

func (d *Directory) GetDocumentOperations(docID string) ([]*op.Operation, error) {
	if _, err := d.GetDocument(docID); err != nil {
		return nil, err
	}
	return d.log.GetDocumentOperations(docID)
}

// OperationsSince：断线追平，按全序返回 lamport 大于 after 的操作
func (d *Directory) OperationsSince(docID string, after int64) ([]*op.Operation, error) {
	if _, err := d.GetDocument(docID); err != nil {
		return nil, err
	}
	return d.log.OperationsSince(docID, after)
}

// RecordCursor：光标既进 presence（节流广播），也记到文档上（last-known）
func (d *Directory) RecordCursor(docID, userID string, position, selection any) *presence.Cursor {
	cur := d.tracker.UpdateCursor(userID, docID, position, selection)
	d.mu.Lock()
	if doc := d.documents[docID]; doc != nil {
		doc.Cursors[userID] = cur
	}
	d.mu.Unlock()
	return cur
}

// SnapshotToRepository：把文档当前物化状态压平后提交进版本仓库。
// 与实时编辑节奏解耦，由宿主定时或按需调用
func (d *Directory) SnapshotToRepository(docID, author, message string, typ vcs.CommitType) (*vcs.Commit, error) {
	doc, err := d.GetDocument(docID)
	if err != nil {
		return nil, err
	}
	state, err := d.log.GetDocumentState(docID)
	if err != nil {
		return nil, err
	}
	if _, err := d.repos.Init(docID, "doc:"+doc.ID, author); err != nil {
		return nil, err
	}
	commit, err := d.repos.Commit(docID, oplog.Flatten(state), author, message, typ)
	if err != nil {
		return nil, err
	}
	if d.bus != nil {
		d.bus.Publish(events.TypeCommitCreated, commit)
	}
	return commit, nil
}

// ListDocumentIDs：宿主的定时任务（自动快照、批量落库）用
func (d *Directory) ListDocumentIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.documents))
	for id := range d.documents {
		ids = append(ids, id)
	}
	return ids
}

// CanAccess：ws 层挂靠房间前的读权限检查
func (d *Directory) CanAccess(docID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	doc := d.documents[docID]
	if doc == nil {
		return false
	}
	ws := d.workspaces[doc.WorkspaceID]
	if ws == nil {
		return false
	}
	return canRead(ws, userID)
}

func canWrite(ws *Workspace, userID string) bool {
	if _, ok := ws.Write[userID]; ok {
		return true
	}
	_, ok := ws.Admin[userID]
	return ok
}

func canRead(ws *Workspace, userID string) bool {
	if _, ok := ws.Read[userID]; ok {
		return true
	}
	return canWrite(ws, userID)
}
