package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// FrameBroadcaster fans preview JPEG frames out to MJPEG clients.
type FrameBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	latest  []byte
}

// NewFrameBroadcaster creates an empty frame broadcaster.
func NewFrameBroadcaster() *FrameBroadcaster {
	return &FrameBroadcaster{clients: make(map[int]chan []byte)}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The latest frame, if any, is queued immediately.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	if fb.latest != nil {
		ch <- fb.latest
	}
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))
	}
}

// Publish sends a frame to every client; slow clients skip it.
func (fb *FrameBroadcaster) Publish(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.latest = data
	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
		}
	}
}

// Close disconnects every client.
func (fb *FrameBroadcaster) Close() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// Serialize encodes payload as JSON and as a protobuf Struct of the same document.
func Serialize(payload any) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var st structpb.Struct
	if err := protojson.Unmarshal(jsonData, &st); err != nil {
		return nil, fmt.Errorf("struct conversion: %w", err)
	}
	pbData, err := proto.Marshal(&st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// EventBroadcaster fans serialized overlay and select events out to SSE and WebRTC clients.
type EventBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	buffer  int
	closed  bool
	metrics *metrics.Metrics
}

// NewEventBroadcaster creates a broadcaster with a per-client queue of buffer events.
func NewEventBroadcaster(buffer int, m *metrics.Metrics) *EventBroadcaster {
	if buffer <= 0 {
		buffer = 2
	}
	return &EventBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		buffer:  buffer,
		metrics: m,
	}
}

// Subscribe adds a new client and returns a channel for receiving events.
func (eb *EventBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	id := eb.nextID
	eb.nextID++
	ch := make(chan *SerializedEvent, eb.buffer)
	if eb.closed {
		close(ch)
		return id, ch
	}
	eb.clients[id] = ch

	logger.Debug("EventBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(eb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (eb *EventBroadcaster) Unsubscribe(id int) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if ch, ok := eb.clients[id]; ok {
		close(ch)
		delete(eb.clients, id)
		logger.Debug("EventBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(eb.clients))
	}
}

// Clients returns the number of subscribed clients.
func (eb *EventBroadcaster) Clients() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.clients)
}

// Broadcast queues event for every client without blocking.
func (eb *EventBroadcaster) Broadcast(event *SerializedEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for id, ch := range eb.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
			if eb.metrics != nil {
				eb.metrics.EventsDropped.Add(1)
			}
			logger.Debug("EventBroadcaster", "Client #%d queue full, event dropped", id)
		}
	}
}

// Close disconnects every client; later subscribers get a closed channel.
func (eb *EventBroadcaster) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.closed = true
	for id, ch := range eb.clients {
		close(ch)
		delete(eb.clients, id)
	}
}
