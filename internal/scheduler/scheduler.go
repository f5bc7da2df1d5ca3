// Package scheduler decides, once per frame tick, whether a new decode job is
// sent to the decode worker. It enforces the throttle interval and keeps at
// most one job outstanding.
package scheduler

import (
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Decision is the outcome of a scheduler tick
type Decision int

const (
	Dispatched      Decision = iota // a job was handed to the worker
	SkippedBusy                     // a job is still outstanding
	SkippedThrottle                 // the throttle interval has not elapsed
)

func (d Decision) String() string {
	switch d {
	case Dispatched:
		return "dispatched"
	case SkippedBusy:
		return "skipped-busy"
	case SkippedThrottle:
		return "skipped-throttle"
	default:
		return "unknown"
	}
}

// Scheduler is the idle -> dispatched -> idle state machine in front of the worker.
// It is driven from the frame loop only and is not safe for concurrent use.
type Scheduler struct {
	throttle     time.Duration
	requests     chan<- types.DecodeRequest
	busy         bool
	lastDispatch time.Time
}

// New creates a scheduler sending jobs on requests
func New(throttle time.Duration, requests chan<- types.DecodeRequest) *Scheduler {
	return &Scheduler{
		throttle: throttle,
		requests: requests,
	}
}

// Tick dispatches a job if the worker is idle and the throttle interval has elapsed.
// grab is only called when a job is actually dispatched; the returned request's
// pixel buffer belongs to the worker from then on.
func (s *Scheduler) Tick(now time.Time, grab func() types.DecodeRequest) Decision {
	if s.busy {
		return SkippedBusy
	}
	if !s.lastDispatch.IsZero() && now.Sub(s.lastDispatch) < s.throttle {
		return SkippedThrottle
	}

	req := grab()
	select {
	case s.requests <- req:
	default:
		// The worker has not drained its inbox; treat it as busy.
		return SkippedBusy
	}

	s.busy = true
	s.lastDispatch = now
	return Dispatched
}

// Complete records a worker response (success or failure) and returns the worker to idle.
// It returns false if no job was outstanding.
func (s *Scheduler) Complete() bool {
	if !s.busy {
		return false
	}
	s.busy = false
	return true
}

// Busy reports whether a job is outstanding
func (s *Scheduler) Busy() bool {
	return s.busy
}

// InFlight returns how long the outstanding job has been running (0 when idle)
func (s *Scheduler) InFlight(now time.Time) time.Duration {
	if !s.busy {
		return 0
	}
	return now.Sub(s.lastDispatch)
}
