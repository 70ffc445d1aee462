package presence

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"collabCore/backend/internal/events"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusEditing Status = "editing"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record 某个用户在某处的在线状态。纯咨询性质，不参与权限/编辑判定
type Record struct {
	UserID      string         `json:"userId"`
	WorkspaceID string         `json:"workspaceId,omitempty"`
	DocumentID  string         `json:"documentId,omitempty"`
	Status      Status         `json:"status"`
	Activity    string         `json:"activity,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	LastSeen    time.Time      `json:"lastSeen"`
}

type Cursor struct {
	UserID     string    `json:"userId"`
	DocumentID string    `json:"documentId"`
	Position   any       `json:"position"`
	Selection  any       `json:"selection,omitempty"`
	Color      string    `json:"color"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Update 是一次 presence 合并请求；零值字段不覆盖已有记录
type Update struct {
	Status      Status
	WorkspaceID string
	DocumentID  string
	Activity    string
	Metadata    map[string]any
}

type Stats struct {
	TotalUsers     int            `json:"totalUsers"`
	OnlineUsers    int            `json:"onlineUsers"`
	ByStatus       map[Status]int `json:"byStatus"`
	TrackedCursors int            `json:"trackedCursors"`
}

type Options struct {
	PresenceTimeout     time.Duration // 超过该时长无心跳转 away
	SweepInterval       time.Duration
	CursorMaxAge        time.Duration // 过旧光标直接丢弃，限制内存
	CursorSweepInterval time.Duration
	CursorThrottle      time.Duration // 同一用户光标广播的合并窗口
}

func DefaultOptions() Options {
	return Options{
		PresenceTimeout:     60 * time.Second,
		SweepInterval:       15 * time.Second,
		CursorMaxAge:        10 * time.Minute,
		CursorSweepInterval: time.Minute,
		CursorThrottle:      100 * time.Millisecond,
	}
}

// Tracker 内存实现。显式构造 + Start/Stop 生命周期，宿主可以按租户起多个实例。
// 任何方法都不会阻塞或失败编辑链路：presence 丢了可以重建，编辑丢了不行。
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record
	// docID -> userID -> cursor
	cursors map[string]map[string]*Cursor
	// 光标节流：上次真正广播的时间；窗口内被合并的更新挂一个尾部补发定时器，
	// 窗口关闭时把最新位置补发出去，最终位置不会丢
	lastCursorEmit map[string]time.Time
	pendingCursor  map[string]*time.Timer

	opt Options
	bus *events.Bus

	stopOnce sync.Once
	done     chan struct{}
}

func NewTracker(opt Options, bus *events.Bus) *Tracker {
	if opt.PresenceTimeout <= 0 {
		opt.PresenceTimeout = DefaultOptions().PresenceTimeout
	}
	if opt.SweepInterval <= 0 {
		opt.SweepInterval = DefaultOptions().SweepInterval
	}
	if opt.CursorMaxAge <= 0 {
		opt.CursorMaxAge = DefaultOptions().CursorMaxAge
	}
	if opt.CursorSweepInterval <= 0 {
		opt.CursorSweepInterval = DefaultOptions().CursorSweepInterval
	}
	if opt.CursorThrottle <= 0 {
		opt.CursorThrottle = DefaultOptions().CursorThrottle
	}
	return &Tracker{
		records:        make(map[string]*Record),
		cursors:        make(map[string]map[string]*Cursor),
		lastCursorEmit: make(map[string]time.Time),
		pendingCursor:  make(map[string]*time.Timer),
		opt:            opt,
		bus:            bus,
		done:           make(chan struct{}),
	}
}

// Start 启动两个后台清扫：presence 过期、光标老化
func (t *Tracker) Start() {
	go t.sweepLoop(t.opt.SweepInterval, t.sweepPresence)
	go t.sweepLoop(t.opt.CursorSweepInterval, t.sweepCursors)
}

func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}

func (t *Tracker) sweepLoop(interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			fn(now)
		case <-t.done:
			return
		}
	}
}

// UpdatePresence 合并更新并刷新 lastSeen。永不失败：空 userID 也照收
func (t *Tracker) UpdatePresence(userID string, u Update) *Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.records[userID]
	if rec == nil {
		rec = &Record{UserID: userID, Status: StatusActive}
		t.records[userID] = rec
	}
	if u.Status != "" {
		rec.Status = u.Status
	}
	if u.WorkspaceID != "" {
		rec.WorkspaceID = u.WorkspaceID
	}
	if u.DocumentID != "" {
		rec.DocumentID = u.DocumentID
	}
	if u.Activity != "" {
		rec.Activity = u.Activity
	}
	if u.Metadata != nil {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any, len(u.Metadata))
		}
		for k, v := range u.Metadata {
			rec.Metadata[k] = v
		}
	}
	rec.LastSeen = time.Now()

	out := *rec
	if t.bus != nil {
		t.bus.Publish(events.TypePresenceChanged, out)
	}
	return &out
}

// UpdateCursor 记录最新光标位置。节流窗口内立即广播第一次，之后只更新存储；
// 窗口关闭时补发一次最新位置，合并后的广播始终反映最近一次移动
func (t *Tracker) UpdateCursor(userID, documentID string, position, selection any) *Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	docCursors := t.cursors[documentID]
	if docCursors == nil {
		docCursors = make(map[string]*Cursor)
		t.cursors[documentID] = docCursors
	}
	cur := docCursors[userID]
	if cur == nil {
		cur = &Cursor{UserID: userID, DocumentID: documentID, Color: ColorFor(userID)}
		docCursors[userID] = cur
	}
	cur.Position = position
	cur.Selection = selection
	cur.UpdatedAt = time.Now()

	out := *cur
	key := documentID + ":" + userID
	now := time.Now()
	last, emitted := t.lastCursorEmit[key]
	switch {
	case !emitted || now.Sub(last) >= t.opt.CursorThrottle:
		t.lastCursorEmit[key] = now
		if t.bus != nil {
			t.bus.Publish(events.TypeCursorMoved, out)
		}
	case t.pendingCursor[key] == nil:
		// 窗口内被合并：挂尾部定时器，到点补发届时的最新位置
		delay := t.opt.CursorThrottle - now.Sub(last)
		t.pendingCursor[key] = time.AfterFunc(delay, func() {
			t.flushCursor(documentID, userID)
		})
	}
	return &out
}

// flushCursor 节流窗口关闭后的补发：取此刻存储里的位置，不是挂定时器时的
func (t *Tracker) flushCursor(documentID, userID string) {
	key := documentID + ":" + userID
	t.mu.Lock()
	delete(t.pendingCursor, key)
	var out *Cursor
	if cur := t.cursors[documentID][userID]; cur != nil {
		c := *cur
		out = &c
		t.lastCursorEmit[key] = time.Now()
	}
	t.mu.Unlock()
	if out != nil && t.bus != nil {
		t.bus.Publish(events.TypeCursorMoved, *out)
	}
}

// Disconnect 显式下线：移除记录和该用户的所有光标
func (t *Tracker) Disconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, userID)
	for docID, docCursors := range t.cursors {
		delete(docCursors, userID)
		delete(t.lastCursorEmit, docID+":"+userID)
		t.cancelPendingLocked(docID + ":" + userID)
		if len(docCursors) == 0 {
			delete(t.cursors, docID)
		}
	}
}

func (t *Tracker) sweepPresence(now time.Time) {
	t.mu.Lock()
	var timedOut []Record
	for _, rec := range t.records {
		if rec.Status == StatusAway || rec.Status == StatusOffline {
			continue
		}
		if now.Sub(rec.LastSeen) > t.opt.PresenceTimeout {
			rec.Status = StatusAway
			timedOut = append(timedOut, *rec)
		}
	}
	t.mu.Unlock()

	for _, rec := range timedOut {
		if t.bus != nil {
			t.bus.Publish(events.TypePresenceTimeout, rec)
		}
	}
}

func (t *Tracker) sweepCursors(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for docID, docCursors := range t.cursors {
		for userID, cur := range docCursors {
			if now.Sub(cur.UpdatedAt) > t.opt.CursorMaxAge {
				delete(docCursors, userID)
				delete(t.lastCursorEmit, docID+":"+userID)
				t.cancelPendingLocked(docID + ":" + userID)
			}
		}
		if len(docCursors) == 0 {
			delete(t.cursors, docID)
		}
	}
}

func (t *Tracker) GetDocumentPresence(documentID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, rec := range t.records {
		if rec.DocumentID == documentID && online(rec.Status) {
			out = append(out, *rec)
		}
	}
	return out
}

// GetWorkspacePresence 只返回仍在线的成员；超时转 away 的记录被排除
func (t *Tracker) GetWorkspacePresence(workspaceID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Record
	for _, rec := range t.records {
		if rec.WorkspaceID == workspaceID && online(rec.Status) {
			out = append(out, *rec)
		}
	}
	return out
}

func (t *Tracker) GetDocumentCursors(documentID string) []Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Cursor
	for _, cur := range t.cursors[documentID] {
		out = append(out, *cur)
	}
	return out
}

func (t *Tracker) GetOnlineUsersCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, rec := range t.records {
		if online(rec.Status) {
			n++
		}
	}
	return n
}

func (t *Tracker) GetPresenceStats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := Stats{ByStatus: make(map[Status]int)}
	for _, rec := range t.records {
		stats.TotalUsers++
		stats.ByStatus[rec.Status]++
		if online(rec.Status) {
			stats.OnlineUsers++
		}
	}
	for _, docCursors := range t.cursors {
		stats.TrackedCursors += len(docCursors)
	}
	return stats
}

func (t *Tracker) cancelPendingLocked(key string) {
	if timer := t.pendingCursor[key]; timer != nil {
		timer.Stop()
		delete(t.pendingCursor, key)
	}
}

func online(s Status) bool {
	return s == StatusActive || s == StatusEditing
}

// ColorFor 从 userID 确定性推导光标颜色：同一用户跨会话颜色稳定
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	hue := h.Sum32() % 360
	return fmt.Sprintf("hsl(%d, 70%%, 45%%)", hue)
}
