package webmonitor

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/pipeline"
)

// ViewportSetter receives the presentation container size
type ViewportSetter interface {
	SetViewport(width, height int)
}

// ClientStatsProvider is implemented by offer handlers that track their peers
type ClientStatsProvider interface {
	GetClientStats() map[string]map[string]uint64
}

// Options wires the server collaborators; all are optional.
type Options struct {
	Viewport    ViewportSetter
	WebRTCOffer http.Handler
	Metrics     *metrics.Metrics
}

// Server serves the scanner presentation surface.
// It implements pipeline.Presenter and pipeline.PreviewSink.
type Server struct {
	cfg       Config
	monitor   *Monitor
	frames    *FrameBroadcaster
	events    *EventBroadcaster
	metrics   *metrics.Metrics
	viewport  ViewportSetter
	offer     http.Handler
	startedAt time.Time
}

// NewServer returns a configured monitor server.
func NewServer(cfg Config, opts Options) *Server {
	def := DefaultConfig()
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if cfg.SSEKeepalive <= 0 {
		cfg.SSEKeepalive = def.SSEKeepalive
	}
	if cfg.MJPEGKeepalive <= 0 {
		cfg.MJPEGKeepalive = def.MJPEGKeepalive
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Server{
		cfg:       cfg,
		monitor:   NewMonitor(),
		frames:    NewFrameBroadcaster(),
		events:    NewEventBroadcaster(cfg.ClientBuffer, m),
		metrics:   m,
		viewport:  opts.Viewport,
		offer:     opts.WebRTCOffer,
		startedAt: time.Now(),
	}
}

// SetViewportTarget sets the collaborator for POST /api/viewport
func (s *Server) SetViewportTarget(v ViewportSetter) {
	s.viewport = v
}

// SetWebRTCOffer sets the handler for POST /api/webrtc/offer
func (s *Server) SetWebRTCOffer(h http.Handler) {
	s.offer = h
}

// Present records an overlay batch and broadcasts it to clients.
func (s *Server) Present(b pipeline.Batch) {
	s.monitor.Update(b)
	ev, err := Serialize(OverlayEvent{
		Type:         EventOverlay,
		Seq:          b.Seq,
		Timestamp:    unixSeconds(b.Timestamp),
		Width:        b.Width,
		Height:       b.Height,
		Instructions: b.Instructions,
		Elements:     b.Elements,
	})
	if err != nil {
		logger.Error("WebMonitor", "Overlay serialization failed: %v", err)
		return
	}
	s.events.Broadcast(ev)
}

// PublishPreview fans a preview frame out to MJPEG clients.
func (s *Server) PublishPreview(jpeg []byte) {
	s.frames.Publish(jpeg)
}

// Events exposes the event broadcaster for other transports.
func (s *Server) Events() *EventBroadcaster {
	return s.events
}

// Snapshot returns the current presentation state.
func (s *Server) Snapshot() CodesSnapshot {
	return s.monitor.Snapshot()
}

// Select emits a selected event for a displayed code.
// It reports false when value is not currently displayed.
func (s *Server) Select(value, source string) (SelectedEvent, bool) {
	el, ok := s.monitor.Lookup(value)
	if !ok {
		return SelectedEvent{}, false
	}
	ev := SelectedEvent{
		Type:         EventSelected,
		Value:        el.Value,
		Symbology:    el.Symbology,
		DisplayIndex: el.DisplayIndex,
		Source:       source,
		Timestamp:    unixSeconds(time.Now()),
	}
	s.monitor.RecordSelection(ev)
	s.metrics.SelectsAnswered.Add(1)
	logger.Info("WebMonitor", "Code #%d selected by %s: %s", el.DisplayIndex, source, el.Value)

	if serialized, err := Serialize(ev); err == nil {
		s.events.Broadcast(serialized)
	} else {
		logger.Error("WebMonitor", "Select serialization failed: %v", err)
	}
	return ev, true
}

// InitialEvent returns the current element set as an overlay event of create instructions.
func (s *Server) InitialEvent() (*SerializedEvent, error) {
	snap := s.monitor.Snapshot()
	instrs := make([]overlay.Instruction, 0, len(snap.Elements))
	for _, el := range snap.Elements {
		instrs = append(instrs, overlay.Instruction{
			Op:           overlay.OpCreate,
			Value:        el.Value,
			Symbology:    el.Symbology,
			DisplayIndex: el.DisplayIndex,
			Geometry:     el.Geometry,
		})
	}
	return Serialize(OverlayEvent{
		Type:         EventOverlay,
		Seq:          snap.Seq,
		Timestamp:    snap.Timestamp,
		Width:        snap.Width,
		Height:       snap.Height,
		Instructions: instrs,
		Elements:     snap.Elements,
	})
}

// Close disconnects every streaming client.
func (s *Server) Close() {
	s.events.Close()
	s.frames.Close()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Code values may contain slashes; match on the escaped path.
	r.UseEncodedPath()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	if s.cfg.AssetsDir != "" {
		r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	}
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/codes", s.handleCodes).Methods(http.MethodGet)
	api.HandleFunc("/codes/stream", s.handleCodesStream).Methods(http.MethodGet)
	api.HandleFunc("/codes/{value}/select", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/viewport", s.handleViewport).Methods(http.MethodPost)
	api.HandleFunc("/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(renderIndex(s.cfg)))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.frames.Subscribe()
	defer s.frames.Unsubscribe(id)
	streamMJPEGFromChannel(w, r, frameCh, s.cfg.MJPEGKeepalive)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.monitor.Snapshot()
	status := map[string]any{
		"metrics":    s.metrics.Snapshot(),
		"displayed":  len(snap.Elements),
		"sseClients": s.events.Clients(),
		"timestamp":  unixSeconds(time.Now()),
	}
	if cs, ok := s.offer.(ClientStatsProvider); ok {
		status["webrtcClients"] = cs.GetClientStats()
	}
	writeJSON(w, status)
}

func (s *Server) handleCodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.monitor.Snapshot())
}

func (s *Server) handleCodesStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.events.Subscribe()
	defer s.events.Unsubscribe(id)

	initial, err := s.InitialEvent()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}

	s.metrics.SSEClients.Add(1)
	s.metrics.TotalClients.Add(1)
	defer s.metrics.SSEClients.Add(^uint64(0))

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamEventsFromChannel(w, r, eventCh, initial, useProtobuf, s.cfg.SSEKeepalive)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	value, err := url.PathUnescape(mux.Vars(r)["value"])
	if err != nil || value == "" {
		writeJSONWithStatus(w, map[string]any{"error": "invalid code value"}, http.StatusBadRequest)
		return
	}
	ev, ok := s.Select(value, "http")
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "code not displayed"}, http.StatusNotFound)
		return
	}
	writeJSON(w, ev)
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req ViewportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "invalid viewport"}, http.StatusBadRequest)
		return
	}
	if req.Width < 0 || req.Height < 0 || req.Width > 8192 || req.Height > 8192 {
		writeJSONWithStatus(w, map[string]any{"error": "viewport out of range"}, http.StatusBadRequest)
		return
	}
	if s.viewport == nil {
		writeJSONWithStatus(w, map[string]any{"error": "viewport control is not configured"}, http.StatusServiceUnavailable)
		return
	}
	s.viewport.SetViewport(req.Width, req.Height)
	logger.Debug("WebMonitor", "Viewport set to %dx%d", req.Width, req.Height)
	writeJSON(w, req)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.offer == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not configured"}, http.StatusServiceUnavailable)
		return
	}
	s.offer.ServeHTTP(w, r)
}
