package events

import (
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewBus(BusOptions{})
	defer b.Close()

	opEvents := b.Subscribe(TypeOpApplied)
	all := b.Subscribe() // 空类型 = 订阅全部

	b.Publish(TypeOpApplied, "payload-1")
	b.Publish(TypeMemberJoined, "payload-2")

	select {
	case evt := <-opEvents:
		if evt.Type != TypeOpApplied || evt.Payload != "payload-1" {
			t.Fatalf("got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("typed subscriber got nothing")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-all:
		case <-time.After(time.Second):
			t.Fatalf("wildcard subscriber got %d/2 events", i)
		}
	}

	// 没订阅的类型不串台
	select {
	case evt := <-opEvents:
		t.Fatalf("unexpected extra event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBus(BusOptions{QueueSize: 4, MailboxSize: 1})
	defer b.Close()

	_ = b.Subscribe(TypeOpApplied) // 从不消费

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(TypeOpApplied, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on slow subscriber")
	}
}
