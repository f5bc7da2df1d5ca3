package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/pipeline"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/tracker"
)

const selectionHistory = 8

// Monitor keeps the latest presentation state for snapshot requests and selects.
type Monitor struct {
	mu        sync.Mutex
	seq       uint64
	updatedAt time.Time
	width     int
	height    int
	elements  map[string]overlay.Element
	order     []string
	codes     []tracker.TrackedCode
	selected  []SelectedEvent
}

// NewMonitor creates an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{elements: make(map[string]overlay.Element)}
}

// Update applies an overlay batch.
func (m *Monitor) Update(b pipeline.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq = b.Seq
	m.updatedAt = b.Timestamp
	if b.Width > 0 || b.Height > 0 {
		m.width, m.height = b.Width, b.Height
	}
	m.elements = make(map[string]overlay.Element, len(b.Elements))
	m.order = m.order[:0]
	for _, el := range b.Elements {
		m.elements[el.Value] = el
		m.order = append(m.order, el.Value)
	}
	m.codes = b.Codes
}

// Lookup returns the displayed element for value.
func (m *Monitor) Lookup(value string) (overlay.Element, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.elements[value]
	return el, ok
}

// RecordSelection remembers a select event, newest first.
func (m *Monitor) RecordSelection(ev SelectedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = append([]SelectedEvent{ev}, m.selected...)
	if len(m.selected) > selectionHistory {
		m.selected = m.selected[:selectionHistory]
	}
}

// Snapshot returns the current presentation state.
func (m *Monitor) Snapshot() CodesSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := CodesSnapshot{
		Seq:      m.seq,
		Width:    m.width,
		Height:   m.height,
		Elements: make([]overlay.Element, 0, len(m.order)),
		Codes:    append([]tracker.TrackedCode{}, m.codes...),
		Selected: append([]SelectedEvent{}, m.selected...),
	}
	if !m.updatedAt.IsZero() {
		snap.Timestamp = unixSeconds(m.updatedAt)
	}
	for _, v := range m.order {
		snap.Elements = append(snap.Elements, m.elements[v])
	}
	return snap
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
