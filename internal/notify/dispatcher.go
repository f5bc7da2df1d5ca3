package notify

import (
	"context"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/tracker"
	"github.com/google/uuid"
)

const notifyTimeout = 2 * time.Second

// Dispatcher runs notifiers off the frame loop.
// Submit never blocks; events are dropped when the queue is full.
type Dispatcher struct {
	notifier Notifier
	metrics  *metrics.Metrics
	queue    chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given queue size
func NewDispatcher(n Notifier, queueSize int, m *metrics.Metrics) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16
	}
	return &Dispatcher{
		notifier: n,
		metrics:  m,
		queue:    make(chan Event, queueSize),
	}
}

// Start begins delivering events. Events queued when ctx is cancelled are
// still delivered; only Stop ends delivery.
func (d *Dispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.wg.Add(1)
	go d.run()
}

// Stop drains queued events and waits for delivery to finish.
// Submit must not be called after Stop.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
	if d.cancel != nil {
		d.cancel()
	}
}

// Submit queues an appearance, returning false when it was dropped
func (d *Dispatcher) Submit(app tracker.Appearance) bool {
	ev := Event{
		ID:        uuid.NewString(),
		Value:     app.Value,
		Symbology: app.Symbology,
		At:        app.At,
	}
	select {
	case d.queue <- ev:
		return true
	default:
		d.metrics.NotificationsDropped.Add(1)
		logger.Warn("Notify", "Queue full, dropping notification for %s", app.Value)
		return false
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(d.ctx, notifyTimeout)
		err := d.notifier.Notify(ctx, ev)
		cancel()
		if err != nil {
			d.metrics.NotificationsFailed.Add(1)
			logger.Warn("Notify", "Notification for %s failed: %v", ev.Value, err)
			continue
		}
		d.metrics.NotificationsSent.Add(1)
	}
}
