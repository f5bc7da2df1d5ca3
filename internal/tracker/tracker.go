// Package tracker turns the single, possibly absent decode result available at
// each frame tick into a stable set of codes considered present, with short
// retention after a code stops decoding and identity by decoded value.
package tracker

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// TrackedCode is one optical code currently considered present
type TrackedCode struct {
	Value          string          `json:"value"`
	Symbology      types.Symbology `json:"symbology"`
	BoundaryPoints []types.Point   `json:"boundaryPoints"`
	LastDecodedAt  time.Time       `json:"lastDecodedAt"`
	LastSeenAt     time.Time       `json:"lastSeenAt"`

	// GeometryKey is the fingerprint of the boundary last laid out by the overlay renderer.
	// It is the only field the renderer writes.
	GeometryKey string `json:"-"`
}

// Appearance reports a value that was not tracked on the previous tick
type Appearance struct {
	Value     string          `json:"value"`
	Symbology types.Symbology `json:"symbology"`
	At        time.Time       `json:"at"`
}

// Tick is the tracker state after one frame tick
type Tick struct {
	Codes    []*TrackedCode // tracked set in display order
	Appeared []Appearance
	Expired  []string // values whose retention ran out on this tick
}

// Config holds the tracker timing
type Config struct {
	ThrottleInterval time.Duration
	FreshnessSlack   time.Duration
	RetentionWindow  time.Duration
}

type decodeResult struct {
	value     string
	symbology types.Symbology
	points    []types.Point
	decodedAt time.Time
}

// Tracker owns the tracked-code set. It is driven from the frame loop only.
type Tracker struct {
	cfg    Config
	latest *decodeResult
	codes  []*TrackedCode
	closed bool
}

// New creates an empty tracker
func New(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Observe records a worker response received at the given time.
// A success becomes the latest decode result; a failure clears it because the
// newer frame no longer shows the previous code.
// It returns false, and does nothing, once the tracker has been closed.
func (t *Tracker) Observe(resp types.DecodeResponse, at time.Time) bool {
	if t.closed {
		return false
	}
	if !resp.OK || resp.Text == "" {
		t.latest = nil
		return true
	}
	t.latest = &decodeResult{
		value:     resp.Text,
		symbology: resp.Symbology,
		points:    append([]types.Point(nil), resp.BoundaryPoints...),
		decodedAt: at,
	}
	return true
}

// fresh returns the latest decode result if it still represents the current frame
func (t *Tracker) fresh(now time.Time) *decodeResult {
	if t.latest == nil {
		return nil
	}
	if now.Sub(t.latest.decodedAt) >= t.cfg.ThrottleInterval+t.cfg.FreshnessSlack {
		return nil
	}
	return t.latest
}

// Advance merges the latest decode result into the tracked set:
// a fresh result inserts or refreshes its code, codes not refreshed survive while
// now - LastSeenAt stays within the retention window, everything else is dropped.
func (t *Tracker) Advance(now time.Time) Tick {
	if t.closed {
		return Tick{}
	}

	var tick Tick
	candidate := t.fresh(now)
	next := make([]*TrackedCode, 0, len(t.codes)+1)
	refreshed := false

	for _, code := range t.codes {
		if candidate != nil && code.Value == candidate.value {
			refresh(code, candidate, now)
			next = append(next, code)
			refreshed = true
			continue
		}
		if now.Sub(code.LastSeenAt) <= t.cfg.RetentionWindow {
			next = append(next, code)
			continue
		}
		tick.Expired = append(tick.Expired, code.Value)
	}

	if candidate != nil && !refreshed {
		code := &TrackedCode{Value: candidate.value}
		refresh(code, candidate, now)
		next = append(next, code)
		tick.Appeared = append(tick.Appeared, Appearance{
			Value:     code.Value,
			Symbology: code.Symbology,
			At:        now,
		})
	}

	t.codes = next
	tick.Codes = next
	return tick
}

func refresh(code *TrackedCode, r *decodeResult, now time.Time) {
	code.Symbology = r.symbology
	code.BoundaryPoints = r.points
	code.LastDecodedAt = r.decodedAt
	if code.LastDecodedAt.After(now) {
		code.LastDecodedAt = now
	}
	code.LastSeenAt = now
}

// Codes returns a copy of the tracked set
func (t *Tracker) Codes() []TrackedCode {
	out := make([]TrackedCode, len(t.codes))
	for i, c := range t.codes {
		out[i] = *c
		out[i].BoundaryPoints = append([]types.Point(nil), c.BoundaryPoints...)
	}
	return out
}

// Close tears the tracker down. Later Observe calls are ignored and Advance
// returns an empty tick.
func (t *Tracker) Close() {
	t.closed = true
	t.latest = nil
	t.codes = nil
}

// Closed reports whether Close was called
func (t *Tracker) Closed() bool {
	return t.closed
}
