// Package webrtc pushes overlay events to browsers over WebRTC data channels
// and accepts select messages back.
package webrtc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/webmonitor"
)

// ErrMaxClients is returned when the client limit is reached
var ErrMaxClients = errors.New("maximum clients reached")

const maxOfferBytes = 64 << 10

// EventSource fans serialized overlay events out to subscribers
type EventSource interface {
	Subscribe() (int, <-chan *webmonitor.SerializedEvent)
	Unsubscribe(id int)
}

// Selector answers select messages and provides the current element set
type Selector interface {
	Select(value, source string) (webmonitor.SelectedEvent, bool)
	InitialEvent() (*webmonitor.SerializedEvent, error)
}

// Message is a data-channel message from the browser
type Message struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Data-channel message types
const (
	MsgSelect       = "select"
	MsgSelectResult = "selectResult"
	MsgFormat       = "format"
	MsgFormatResult = "formatResult"
)

// Event encodings a client can ask for with a format message
const (
	FormatJSON     = "json"
	FormatProtobuf = "protobuf"
)

// Reply answers a select or format message
type Reply struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	OK    bool   `json:"ok"`
}

// Client represents a connected WebRTC client
type Client struct {
	id            string
	peerConn      *webrtc.PeerConnection
	closeChan     chan struct{}
	closeOnce     sync.Once
	eventsSent    atomic.Uint64
	eventsDropped atomic.Uint64
	useProtobuf   atomic.Bool
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
}

// Server manages WebRTC connections
type Server struct {
	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
	events     EventSource
	selector   Selector
	metrics    *metrics.Metrics
}

// NewServer creates a new WebRTC server
func NewServer(stunServers []string, maxClients int, events EventSource, selector Selector, m *metrics.Metrics) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	if m == nil {
		m = metrics.New()
	}
	return &Server{
		clients:    make(map[string]*Client),
		config:     webrtc.Configuration{ICEServers: iceServers},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		events:     events,
		selector:   selector,
		metrics:    m,
	}
}

// HandleOffer handles a WebRTC offer and returns an answer.
// The browser opens the data channel; events flow once it is open.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.Type != webrtc.SDPTypeOffer || offer.SDP == "" {
		return nil, fmt.Errorf("failed to parse offer: not an SDP offer")
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()
	if numClients >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrMaxClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	client := &Client{
		id:        uuid.NewString(),
		peerConn:  peerConn,
		closeChan: make(chan struct{}),
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Debug("WebRTC", "Client %s opened data channel %q", client.id, dc.Label())
		dc.OnOpen(func() {
			go s.sendEvents(client, dc)
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			reply := s.handleMessage(client, msg.Data)
			if reply == nil {
				return
			}
			if err := dc.SendText(string(reply)); err != nil {
				logger.Debug("WebRTC", "Client %s reply failed: %v", client.id, err)
			}
		})
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Client %s connection state: %s", client.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			logger.Info("WebRTC", "Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		peerConn.Close()
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete
	logger.Debug("WebRTC", "ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.clients[client.id] = client
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.metrics.WebRTCClients.Store(uint64(count))
	s.metrics.TotalClients.Add(1)

	logger.Info("WebRTC", "Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}
	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// ServeHTTP answers POST offers with the SDP answer as JSON
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxOfferBytes))
	if err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	answer, err := s.HandleOffer(body)
	switch {
	case errors.Is(err, ErrMaxClients):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		logger.Warn("WebRTC", "Offer rejected: %v", err)
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

// sendEvents forwards overlay events to one client until it goes away
func (s *Server) sendEvents(client *Client, dc *webrtc.DataChannel) {
	id, events := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	if initial, err := s.selector.InitialEvent(); err == nil {
		if err := dc.SendText(client.payload(initial)); err != nil {
			logger.Debug("WebRTC", "Client %s initial send failed: %v", client.id, err)
			return
		}
		client.eventsSent.Add(1)
	}

	for {
		select {
		case <-client.closeChan:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := dc.SendText(client.payload(ev)); err != nil {
				if !errors.Is(err, io.ErrClosedPipe) {
					logger.Warn("WebRTC", "Error sending event to client %s: %v", client.id, err)
				}
				client.eventsDropped.Add(1)
				return
			}
			client.eventsSent.Add(1)
		}
	}
}

// payload picks the encoding the client asked for.
// Protobuf is sent base64 encoded, as on SSE.
func (c *Client) payload(ev *webmonitor.SerializedEvent) string {
	if c.useProtobuf.Load() {
		return string(ev.ProtobufData)
	}
	return string(ev.JSONData)
}

// handleMessage processes one browser message and returns the reply, if any
func (s *Server) handleMessage(client *Client, data []byte) []byte {
	clientID := client.id
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Debug("WebRTC", "Client %s sent invalid message: %v", clientID, err)
		return nil
	}
	switch msg.Type {
	case MsgSelect:
		_, ok := s.selector.Select(msg.Value, clientID)
		reply, _ := json.Marshal(Reply{Type: MsgSelectResult, Value: msg.Value, OK: ok})
		return reply
	case MsgFormat:
		ok := msg.Value == FormatJSON || msg.Value == FormatProtobuf
		if ok {
			client.useProtobuf.Store(msg.Value == FormatProtobuf)
			logger.Debug("WebRTC", "Client %s switched to %s events", clientID, msg.Value)
		}
		reply, _ := json.Marshal(Reply{Type: MsgFormatResult, Value: msg.Value, OK: ok})
		return reply
	default:
		logger.Debug("WebRTC", "Client %s sent unknown message type %q", clientID, msg.Type)
		return nil
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	if exists {
		delete(s.clients, clientID)
	}
	count := len(s.clients)
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	s.metrics.WebRTCClients.Store(uint64(count))
	client.close()
	// Close re-enters RemoveClient through the state callback; the client is already gone.
	_ = client.peerConn.Close()

	logger.Info("WebRTC", "Client %s disconnected (sent: %d, dropped: %d)",
		clientID, client.eventsSent.Load(), client.eventsDropped.Load())
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// GetClientStats returns stats for all clients
func (s *Server) GetClientStats() map[string]map[string]uint64 {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	stats := make(map[string]map[string]uint64)
	for id, client := range s.clients {
		stats[id] = map[string]uint64{
			"events_sent":    client.eventsSent.Load(),
			"events_dropped": client.eventsDropped.Load(),
		}
	}
	return stats
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
