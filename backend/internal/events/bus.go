package events

import (
	"sync"
	"time"
)

// 事件类型
const (
	TypeOpApplied       = "op_applied"
	TypePresenceChanged = "presence_changed"
	TypePresenceTimeout = "presence_timeout"
	TypeCursorMoved     = "cursor_moved"
	TypeMemberJoined    = "member_joined"
	TypeCommitCreated   = "commit_created"
)

type Event struct {
	Type    string    `json:"type"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Bus：进程内有界队列 + worker 派发，替代同步回调式的 emitter。
// 投递顺序 = 入队顺序；订阅方信箱满时丢弃（事件是尽力而为的通知，不承载状态）
type Bus struct {
	queue chan Event

	mu     sync.RWMutex
	subs   map[string][]chan Event
	closed bool

	mailbox int
	done    chan struct{}
}

type BusOptions struct {
	QueueSize   int
	MailboxSize int
}

type busDefaults struct{ queue, mailbox int }

var defaults = busDefaults{queue: 1024, mailbox: 64}

func NewBus(opt BusOptions) *Bus {
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaults.queue
	}
	if opt.MailboxSize <= 0 {
		opt.MailboxSize = defaults.mailbox
	}
	b := &Bus{
		queue:   make(chan Event, opt.QueueSize),
		subs:    make(map[string][]chan Event),
		mailbox: opt.MailboxSize,
		done:    make(chan struct{}),
	}
	go b.dispatchLoop()
	return b
}

// Subscribe 返回订阅方信箱；types 为空表示订阅全部
func (b *Bus) Subscribe(types ...string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.mailbox)
	if len(types) == 0 {
		types = []string{"*"}
	}
	for _, t := range types {
		b.subs[t] = append(b.subs[t], ch)
	}
	return ch
}

// Publish 非阻塞入队；队列满直接丢（不能反压编辑主链路）
func (b *Bus) Publish(evtType string, payload any) {
	evt := Event{Type: evtType, At: time.Now(), Payload: payload}
	select {
	case b.queue <- evt:
	default:
	}
}

func (b *Bus) dispatchLoop() {
	for {
		select {
		case evt := <-b.queue:
			b.mu.RLock()
			targets := append([]chan Event{}, b.subs[evt.Type]...)
			targets = append(targets, b.subs["*"]...)
			b.mu.RUnlock()
			for _, ch := range targets {
				select {
				case ch <- evt:
				default:
					// 订阅方太慢，丢弃
				}
			}
		case <-b.done:
			return
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}
