package tracker

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func defaultConfig() Config {
	return Config{
		ThrottleInterval: 500 * time.Millisecond,
		FreshnessSlack:   50 * time.Millisecond,
		RetentionWindow:  800 * time.Millisecond,
	}
}

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func decoded(value string, sym types.Symbology) types.DecodeResponse {
	return types.DecodeResponse{
		OK:        true,
		Text:      value,
		Symbology: sym,
		BoundaryPoints: []types.Point{
			{X: 10, Y: 10}, {X: 110, Y: 10}, {X: 110, Y: 110}, {X: 10, Y: 110},
		},
	}
}

func failed() types.DecodeResponse {
	return types.DecodeResponse{OK: false, Error: "no code found"}
}

func values(codes []*TrackedCode) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = c.Value
	}
	return out
}

func TestNoDecodeKeepsSetEmpty(t *testing.T) {
	tr := New(defaultConfig())
	for ms := 0; ms < 5000; ms += 16 {
		if tick := tr.Advance(at(ms)); len(tick.Codes) != 0 || len(tick.Appeared) != 0 {
			t.Fatalf("tracked set not empty at %dms: %v", ms, values(tick.Codes))
		}
	}
}

func TestFreshResultRefreshesLastSeen(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))

	tick := tr.Advance(at(0))
	if len(tick.Appeared) != 1 || tick.Appeared[0].Value != "ABC" {
		t.Fatalf("expected one appearance, got %+v", tick.Appeared)
	}

	tick = tr.Advance(at(549))
	if got := tick.Codes[0].LastSeenAt; !got.Equal(at(549)) {
		t.Fatalf("LastSeenAt = %v, want refreshed at 549ms", got.Sub(t0))
	}

	// At throttle+slack the result is stale: code is carried, not refreshed.
	tick = tr.Advance(at(550))
	if got := tick.Codes[0].LastSeenAt; !got.Equal(at(549)) {
		t.Fatalf("stale result refreshed LastSeenAt to %v", got.Sub(t0))
	}
	if len(tick.Appeared) != 0 {
		t.Fatalf("continuous presence re-triggered appearance")
	}
}

// Decode once, then only failures: the code survives the retention window
// and is dropped exactly once when the gap exceeds it.
func TestRetentionAfterFailures(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))
	tr.Advance(at(0))
	tr.Observe(failed(), at(1))

	for _, ms := range []int{1, 16, 400, 799, 800} {
		tick := tr.Advance(at(ms))
		if len(tick.Codes) != 1 {
			t.Fatalf("code dropped at %dms", ms)
		}
		if len(tick.Expired) != 0 {
			t.Fatalf("unexpected expiry at %dms", ms)
		}
	}

	tick := tr.Advance(at(801))
	if len(tick.Codes) != 0 {
		t.Fatalf("code still tracked after retention: %v", values(tick.Codes))
	}
	if len(tick.Expired) != 1 || tick.Expired[0] != "ABC" {
		t.Fatalf("expired = %v", tick.Expired)
	}

	tick = tr.Advance(at(900))
	if len(tick.Expired) != 0 {
		t.Fatalf("expiry reported twice")
	}
}

func TestFailureClearsLatestResult(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))
	tr.Advance(at(0))

	tr.Observe(failed(), at(100))
	tick := tr.Advance(at(200))
	if !tick.Codes[0].LastSeenAt.Equal(at(0)) {
		t.Fatalf("failure should stop refreshing the code")
	}
}

func TestAlternatingCodesBothTracked(t *testing.T) {
	tr := New(defaultConfig())

	var last Tick
	for i := 0; i < 8; i++ {
		value := "A"
		if i%2 == 1 {
			value = "B"
		}
		tr.Observe(decoded(value, types.QRCode), at(i*500))
		for ms := i * 500; ms < (i+1)*500; ms += 16 {
			last = tr.Advance(at(ms))
			if i > 0 && len(last.Codes) != 2 {
				t.Fatalf("at %dms tracked = %v, want both codes", ms, values(last.Codes))
			}
		}
	}

	got := values(last.Codes)
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("order = %v, want stable [A B]", got)
	}
}

func TestReappearanceWithinRetentionIsContinuous(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.EAN13), at(0))
	tr.Advance(at(0))
	tr.Observe(failed(), at(500))
	tr.Advance(at(700))

	tr.Observe(decoded("ABC", types.EAN13), at(750))
	tick := tr.Advance(at(750))
	if len(tick.Appeared) != 0 {
		t.Fatalf("reappearance inside retention triggered %v", tick.Appeared)
	}

	// After a real disappearance the code appears again
	tr.Observe(failed(), at(1500))
	tr.Advance(at(2000))
	tick = tr.Advance(at(2400))
	if len(tick.Codes) != 0 {
		t.Fatalf("code should have expired")
	}
	tr.Observe(decoded("ABC", types.EAN13), at(2500))
	tick = tr.Advance(at(2500))
	if len(tick.Appeared) != 1 {
		t.Fatalf("new appearance after expiry not reported")
	}
}

func TestUpdatedBoundaryReplacesPoints(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))
	tr.Advance(at(0))

	moved := decoded("ABC", types.QRCode)
	moved.BoundaryPoints = []types.Point{{X: 50, Y: 50}, {X: 60, Y: 60}, {X: 70, Y: 50}}
	tr.Observe(moved, at(500))
	tick := tr.Advance(at(510))

	if len(tick.Codes) != 1 || len(tick.Codes[0].BoundaryPoints) != 3 {
		t.Fatalf("boundary not updated: %+v", tick.Codes)
	}
	if !tick.Codes[0].LastDecodedAt.Equal(at(500)) {
		t.Fatalf("LastDecodedAt = %v", tick.Codes[0].LastDecodedAt.Sub(t0))
	}
}

func TestCloseIgnoresLateMessages(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))
	tr.Advance(at(0))
	tr.Close()

	if tr.Observe(decoded("LATE", types.QRCode), at(10)) {
		t.Fatalf("Observe after Close must report the message as ignored")
	}
	if tick := tr.Advance(at(20)); len(tick.Codes) != 0 || len(tick.Appeared) != 0 {
		t.Fatalf("closed tracker produced %+v", tick)
	}
	if !tr.Closed() || len(tr.Codes()) != 0 {
		t.Fatalf("tracker not torn down")
	}
}

func TestCodesReturnsCopy(t *testing.T) {
	tr := New(defaultConfig())
	tr.Observe(decoded("ABC", types.QRCode), at(0))
	tr.Advance(at(0))

	snapshot := tr.Codes()
	snapshot[0].Value = "mutated"
	snapshot[0].BoundaryPoints[0].X = -1

	again := tr.Codes()
	if again[0].Value != "ABC" || again[0].BoundaryPoints[0].X != 10 {
		t.Fatalf("Codes leaked internal state: %+v", again[0])
	}
}

// Random decode sequences never produce duplicate values, keep LastSeenAt >=
// LastDecodedAt, and never drop a code before its retention window ran out.
func TestRandomSequencesKeepInvariants(t *testing.T) {
	cfg := defaultConfig()
	rng := rand.New(rand.NewSource(42))
	pool := []string{"A", "B", "C", "D"}

	for run := 0; run < 50; run++ {
		tr := New(cfg)
		lastSeen := map[string]time.Time{}

		for ms := 0; ms < 6000; ms += 16 {
			now := at(ms)
			if ms%160 == 0 {
				if rng.Intn(3) == 0 {
					tr.Observe(failed(), now)
				} else {
					tr.Observe(decoded(pool[rng.Intn(len(pool))], types.Code128), now)
				}
			}

			tick := tr.Advance(now)
			seen := map[string]bool{}
			for _, c := range tick.Codes {
				if seen[c.Value] {
					t.Fatalf("run %d: duplicate value %q at %dms", run, c.Value, ms)
				}
				seen[c.Value] = true
				if c.LastSeenAt.Before(c.LastDecodedAt) {
					t.Fatalf("run %d: LastSeenAt before LastDecodedAt for %q", run, c.Value)
				}
				lastSeen[c.Value] = c.LastSeenAt
			}
			for value, ls := range lastSeen {
				if !seen[value] {
					if now.Sub(ls) <= cfg.RetentionWindow {
						t.Fatalf("run %d: %q dropped %v after last sighting", run, value, now.Sub(ls))
					}
					delete(lastSeen, value)
				}
			}
		}
	}
}

func BenchmarkAdvance(b *testing.B) {
	tr := New(defaultConfig())
	for i := 0; i < 8; i++ {
		tr.Observe(decoded(fmt.Sprintf("code-%d", i), types.QRCode), at(i))
		tr.Advance(at(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tr.Advance(at(10 + i%500))
	}
}
