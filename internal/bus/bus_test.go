package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	b.Emit(KindMessagesChanged, "test")

	select {
	case evt := <-ch:
		if evt.Kind != KindMessagesChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessagesChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Emit(KindConversationsChanged, nil)
	b.Emit(KindConnStateChanged, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindConnStateChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindConnStateChanged)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("store.", 10)
	unsub()
	unsub() // second call must not panic

	b.Emit(KindMessagesChanged, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("test.", 1)
	defer unsub()

	b.Publish(Event{Kind: "test.one"})
	// Dropped: buffer is full and Publish never blocks.
	b.Publish(Event{Kind: "test.two"})

	evt := <-ch
	if evt.Kind != "test.one" {
		t.Errorf("got %q, want test.one", evt.Kind)
	}
}

func TestNilBusDiscards(t *testing.T) {
	var b *Bus
	b.Emit(KindMessagesChanged, nil)
}
