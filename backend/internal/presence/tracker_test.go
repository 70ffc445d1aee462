package presence

import (
	"testing"
	"time"

	"collabCore/backend/internal/events"
)

func newTestTracker() *Tracker {
	return NewTracker(Options{
		PresenceTimeout: 50 * time.Millisecond,
		CursorThrottle:  30 * time.Millisecond,
	}, nil)
}

func TestTracker_UpdateMergesFields(t *testing.T) {
	tr := newTestTracker()

	tr.UpdatePresence("alice", Update{Status: StatusActive, WorkspaceID: "ws1", DocumentID: "doc1"})
	// 空字段不覆盖已有值
	rec := tr.UpdatePresence("alice", Update{Activity: "editing cell B2"})

	if rec.WorkspaceID != "ws1" || rec.DocumentID != "doc1" {
		t.Fatalf("merge lost fields: %+v", rec)
	}
	if rec.Activity != "editing cell B2" {
		t.Fatalf("activity = %q", rec.Activity)
	}
	if rec.LastSeen.IsZero() {
		t.Fatalf("lastSeen not set")
	}
}

func TestTracker_DocumentPresenceExcludesAway(t *testing.T) {
	tr := newTestTracker()
	tr.UpdatePresence("alice", Update{Status: StatusActive, DocumentID: "doc1"})
	tr.UpdatePresence("bob", Update{Status: StatusEditing, DocumentID: "doc1"})
	tr.UpdatePresence("carol", Update{Status: StatusAway, DocumentID: "doc1"})
	tr.UpdatePresence("dave", Update{Status: StatusActive, DocumentID: "doc2"})

	got := tr.GetDocumentPresence("doc1")
	if len(got) != 2 {
		t.Fatalf("got %d members, want 2: %+v", len(got), got)
	}
	if tr.GetOnlineUsersCount() != 3 {
		t.Fatalf("online = %d, want 3", tr.GetOnlineUsersCount())
	}
}

func TestTracker_SweepMarksStaleAway(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	defer bus.Close()
	timeouts := bus.Subscribe(events.TypePresenceTimeout)

	tr := NewTracker(Options{PresenceTimeout: 50 * time.Millisecond}, bus)
	tr.UpdatePresence("alice", Update{Status: StatusActive, DocumentID: "doc1"})

	// 不等真实心跳超时，直接用未来时刻清扫
	tr.sweepPresence(time.Now().Add(time.Second))

	if got := tr.GetDocumentPresence("doc1"); len(got) != 0 {
		t.Fatalf("stale member still online: %+v", got)
	}

	select {
	case evt := <-timeouts:
		rec, ok := evt.Payload.(Record)
		if !ok || rec.UserID != "alice" || rec.Status != StatusAway {
			t.Fatalf("unexpected timeout event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("no presence_timeout event")
	}
}

func TestTracker_CursorThrottleKeepsLatestPosition(t *testing.T) {
	tr := newTestTracker()

	tr.UpdateCursor("alice", "doc1", "B2", nil)
	// 节流窗口内连续更新：不重复广播，但位置必须是最新的
	cur := tr.UpdateCursor("alice", "doc1", "C3", nil)

	if cur.Position != "C3" {
		t.Fatalf("position = %v, want C3", cur.Position)
	}
	if len(tr.lastCursorEmit) != 1 {
		t.Fatalf("emit bookkeeping = %d entries, want 1", len(tr.lastCursorEmit))
	}

	got := tr.GetDocumentCursors("doc1")
	if len(got) != 1 || got[0].Position != "C3" {
		t.Fatalf("cursors = %+v", got)
	}
}

func TestTracker_CursorThrottleFlushesFinalPosition(t *testing.T) {
	bus := events.NewBus(events.BusOptions{})
	defer bus.Close()
	moved := bus.Subscribe(events.TypeCursorMoved)

	tr := NewTracker(Options{CursorThrottle: 50 * time.Millisecond}, bus)

	// 第一次立即广播，紧跟着的两次落在同一个节流窗口里
	tr.UpdateCursor("alice", "doc1", "B2", nil)
	tr.UpdateCursor("alice", "doc1", "C3", nil)
	tr.UpdateCursor("alice", "doc1", "D4", nil)

	var positions []any
	deadline := time.After(400 * time.Millisecond)
	for len(positions) < 2 {
		select {
		case evt := <-moved:
			cur, ok := evt.Payload.(Cursor)
			if !ok {
				t.Fatalf("unexpected payload: %+v", evt)
			}
			positions = append(positions, cur.Position)
		case <-deadline:
			t.Fatalf("broadcasts = %v, final position never flushed", positions)
		}
	}
	if positions[0] != "B2" {
		t.Fatalf("first broadcast = %v, want B2", positions[0])
	}
	// 窗口关闭后的补发必须带最后一次位置，而不是挂定时器那一刻的
	if positions[1] != "D4" {
		t.Fatalf("flushed broadcast = %v, want D4", positions[1])
	}
}

func TestTracker_CursorSweepDropsStale(t *testing.T) {
	tr := NewTracker(Options{CursorMaxAge: 50 * time.Millisecond}, nil)
	tr.UpdateCursor("alice", "doc1", "B2", nil)

	tr.sweepCursors(time.Now().Add(time.Minute))

	if got := tr.GetDocumentCursors("doc1"); len(got) != 0 {
		t.Fatalf("stale cursor survived: %+v", got)
	}
}

func TestTracker_Disconnect(t *testing.T) {
	tr := newTestTracker()
	tr.UpdatePresence("alice", Update{Status: StatusActive, DocumentID: "doc1"})
	tr.UpdateCursor("alice", "doc1", "B2", nil)

	tr.Disconnect("alice")

	if len(tr.GetDocumentPresence("doc1")) != 0 {
		t.Fatalf("presence survived disconnect")
	}
	if len(tr.GetDocumentCursors("doc1")) != 0 {
		t.Fatalf("cursor survived disconnect")
	}
}

func TestTracker_Stats(t *testing.T) {
	tr := newTestTracker()
	tr.UpdatePresence("alice", Update{Status: StatusActive})
	tr.UpdatePresence("bob", Update{Status: StatusAway})
	tr.UpdateCursor("alice", "doc1", "B2", nil)

	stats := tr.GetPresenceStats()
	if stats.TotalUsers != 2 || stats.OnlineUsers != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ByStatus[StatusAway] != 1 {
		t.Fatalf("byStatus = %+v", stats.ByStatus)
	}
	if stats.TrackedCursors != 1 {
		t.Fatalf("trackedCursors = %d", stats.TrackedCursors)
	}
}

func TestColorFor_Deterministic(t *testing.T) {
	if ColorFor("alice") != ColorFor("alice") {
		t.Fatalf("color unstable for same user")
	}
	if ColorFor("alice") == ColorFor("bob") {
		t.Fatalf("color collision for different users (fnv should separate these)")
	}
}
