package webmonitor

import (
	"testing"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
)

func TestEventBroadcasterDropsForSlowClients(t *testing.T) {
	m := metrics.New()
	eb := NewEventBroadcaster(1, m)
	_, ch := eb.Subscribe()

	ev := &SerializedEvent{JSONData: []byte(`{}`)}
	eb.Broadcast(ev)
	eb.Broadcast(ev)
	eb.Broadcast(ev)

	if got := <-ch; got != ev {
		t.Fatalf("unexpected event")
	}
	if m.EventsDropped.Load() != 2 {
		t.Fatalf("dropped = %d, want 2", m.EventsDropped.Load())
	}
}

func TestEventBroadcasterUnsubscribeAndClose(t *testing.T) {
	eb := NewEventBroadcaster(2, nil)
	id, ch := eb.Subscribe()
	_, other := eb.Subscribe()
	if eb.Clients() != 2 {
		t.Fatalf("clients = %d", eb.Clients())
	}

	eb.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatalf("unsubscribed channel still open")
	}
	eb.Unsubscribe(id) // second call is a no-op

	eb.Close()
	if _, ok := <-other; ok {
		t.Fatalf("channel open after Close")
	}
	if _, late := eb.Subscribe(); late != nil {
		if _, ok := <-late; ok {
			t.Fatalf("subscribe after Close returned an open channel")
		}
	}
}

func TestFrameBroadcasterReplaysLatest(t *testing.T) {
	fb := NewFrameBroadcaster()
	fb.Publish([]byte("one"))
	_, ch := fb.Subscribe()
	if got := string(<-ch); got != "one" {
		t.Fatalf("replayed %q", got)
	}
	fb.Publish([]byte("two"))
	if got := string(<-ch); got != "two" {
		t.Fatalf("received %q", got)
	}
}

func TestSerialize(t *testing.T) {
	ev, err := Serialize(SelectedEvent{Type: EventSelected, Value: "v", DisplayIndex: 3})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(ev.JSONData) == 0 || len(ev.ProtobufData) == 0 {
		t.Fatalf("empty serialization")
	}
	if _, err := Serialize(make(chan int)); err == nil {
		t.Fatalf("expected error for unserializable payload")
	}
}
