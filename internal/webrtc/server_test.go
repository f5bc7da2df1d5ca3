package webrtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/webmonitor"
)

type fakeSelector struct {
	mu       sync.Mutex
	shown    map[string]bool
	selected []string
	sources  []string
}

func (f *fakeSelector) Select(value, source string) (webmonitor.SelectedEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.shown[value] {
		return webmonitor.SelectedEvent{}, false
	}
	f.selected = append(f.selected, value)
	f.sources = append(f.sources, source)
	return webmonitor.SelectedEvent{Type: webmonitor.EventSelected, Value: value, Source: source}, true
}

func (f *fakeSelector) InitialEvent() (*webmonitor.SerializedEvent, error) {
	return webmonitor.Serialize(webmonitor.OverlayEvent{Type: webmonitor.EventOverlay})
}

func newTestServer(maxClients int) (*Server, *webmonitor.EventBroadcaster, *fakeSelector) {
	m := metrics.New()
	events := webmonitor.NewEventBroadcaster(4, m)
	sel := &fakeSelector{shown: map[string]bool{"https://example.com/a/b": true}}
	return NewServer(nil, maxClients, events, sel, m), events, sel
}

func TestHandleOfferRejectsInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(1)
	if _, err := s.HandleOffer([]byte("not json")); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := s.HandleOffer([]byte(`{"type":"answer","sdp":"v=0"}`)); err == nil {
		t.Fatalf("expected error for non-offer description")
	}
}

func TestHandleOfferEnforcesMaxClients(t *testing.T) {
	s, _, _ := newTestServer(0)
	offer := []byte(`{"type":"offer","sdp":"v=0\r\n"}`)
	if _, err := s.HandleOffer(offer); !errors.Is(err, ErrMaxClients) {
		t.Fatalf("err = %v, want ErrMaxClients", err)
	}
}

func TestServeHTTPStatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		maxClients int
		body       string
		want       int
	}{
		{"invalid body", 1, "garbage", http.StatusBadRequest},
		{"no capacity", 0, `{"type":"offer","sdp":"v=0\r\n"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(tt.maxClients)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/webrtc/offer", strings.NewReader(tt.body))
			s.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["error"] == "" {
				t.Fatalf("expected JSON error body, got %q", rec.Body.String())
			}
		})
	}
}

func TestHandleMessage(t *testing.T) {
	s, _, sel := newTestServer(1)
	client := &Client{id: "client-1", closeChan: make(chan struct{})}

	reply := s.handleMessage(client, []byte(`{"type":"select","value":"https://example.com/a/b"}`))
	var res Reply
	if err := json.Unmarshal(reply, &res); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !res.OK || res.Type != "selectResult" || res.Value != "https://example.com/a/b" {
		t.Fatalf("unexpected reply %+v", res)
	}
	if len(sel.sources) != 1 || sel.sources[0] != "client-1" {
		t.Fatalf("select source = %v", sel.sources)
	}

	reply = s.handleMessage(client, []byte(`{"type":"select","value":"missing"}`))
	if err := json.Unmarshal(reply, &res); err != nil || res.OK {
		t.Fatalf("missing value should answer ok=false, got %s", reply)
	}

	if reply := s.handleMessage(client, []byte(`{"type":"ping"}`)); reply != nil {
		t.Fatalf("unknown type should not reply, got %s", reply)
	}
	if reply := s.handleMessage(client, []byte(`{`)); reply != nil {
		t.Fatalf("invalid message should not reply, got %s", reply)
	}
}

func TestFormatMessageSelectsProtobuf(t *testing.T) {
	s, _, _ := newTestServer(1)
	client := &Client{id: "client-2", closeChan: make(chan struct{})}
	ev, err := webmonitor.Serialize(webmonitor.OverlayEvent{Type: webmonitor.EventOverlay, Seq: 3})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if got := client.payload(ev); got != string(ev.JSONData) {
		t.Fatalf("default payload = %q, want JSON", got)
	}

	var res Reply
	reply := s.handleMessage(client, []byte(`{"type":"format","value":"protobuf"}`))
	if err := json.Unmarshal(reply, &res); err != nil || !res.OK || res.Type != MsgFormatResult {
		t.Fatalf("format reply = %s", reply)
	}
	if got := client.payload(ev); got != string(ev.ProtobufData) {
		t.Fatalf("payload after protobuf request = %q", got)
	}

	reply = s.handleMessage(client, []byte(`{"type":"format","value":"xml"}`))
	if err := json.Unmarshal(reply, &res); err != nil || res.OK {
		t.Fatalf("unknown format should answer ok=false, got %s", reply)
	}
	if got := client.payload(ev); got != string(ev.ProtobufData) {
		t.Fatalf("rejected format changed the encoding")
	}

	s.handleMessage(client, []byte(`{"type":"format","value":"json"}`))
	if got := client.payload(ev); got != string(ev.JSONData) {
		t.Fatalf("payload after json request = %q", got)
	}
}

func TestCloseWithoutClients(t *testing.T) {
	s, _, _ := newTestServer(1)
	done := make(chan struct{})
	go func() {
		_ = s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close blocked")
	}
	if s.GetClientCount() != 0 {
		t.Fatalf("clients = %d", s.GetClientCount())
	}
}

// TestDataChannelLoopback connects a local pion peer and exchanges overlay and select messages.
func TestDataChannelLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping WebRTC loopback in short mode")
	}
	s, events, sel := newTestServer(2)
	defer s.Close()

	peer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("peer: %v", err)
	}
	defer peer.Close()

	dc, err := peer.CreateDataChannel("overlay", nil)
	if err != nil {
		t.Fatalf("data channel: %v", err)
	}
	opened := make(chan struct{})
	messages := make(chan string, 16)
	dc.OnOpen(func() { close(opened) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) { messages <- string(msg.Data) })

	offer, err := peer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(offer); err != nil {
		t.Fatalf("local description: %v", err)
	}
	<-gathered

	offerJSON, _ := json.Marshal(peer.LocalDescription())
	answerJSON, err := s.HandleOffer(offerJSON)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("remote description: %v", err)
	}

	select {
	case <-opened:
	case <-time.After(10 * time.Second):
		t.Skip("data channel did not open; no usable local network")
	}

	expectType := func(want string) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case msg := <-messages:
				var head struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal([]byte(msg), &head); err == nil && head.Type == want {
					return
				}
			case <-deadline:
				t.Fatalf("no %q message received", want)
			}
		}
	}

	expectType(webmonitor.EventOverlay)

	ev, _ := webmonitor.Serialize(webmonitor.OverlayEvent{Type: webmonitor.EventOverlay, Seq: 7})
	events.Broadcast(ev)
	expectType(webmonitor.EventOverlay)

	if err := dc.SendText(`{"type":"select","value":"https://example.com/a/b"}`); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectType("selectResult")

	sel.mu.Lock()
	n := len(sel.selected)
	sel.mu.Unlock()
	if n != 1 {
		t.Fatalf("selected %d times", n)
	}
	if s.GetClientCount() != 1 {
		t.Fatalf("clients = %d", s.GetClientCount())
	}
}
