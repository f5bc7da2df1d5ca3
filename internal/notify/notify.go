// Package notify delivers side effects for newly appeared codes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/code-scanner/pkg/types"
)

// Event describes one code appearance
type Event struct {
	ID        string          `json:"id"`
	Value     string          `json:"value"`
	Symbology types.Symbology `json:"symbology"`
	At        time.Time       `json:"at"`
}

// Notifier delivers appearance events
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
	Close() error
}

// Log writes a bell and a notice line per appearance
type Log struct {
	out  io.Writer
	beep bool
}

// NewLog creates a Log notifier; out may be nil to only log
func NewLog(out io.Writer, beep bool) *Log {
	return &Log{out: out, beep: beep}
}

func (l *Log) Notify(_ context.Context, ev Event) error {
	logger.Info("Notify", "New code detected: %s (%s)", ev.Value, ev.Symbology)
	if l.out == nil || !l.beep {
		return nil
	}
	_, err := fmt.Fprintf(l.out, "\a%s %s\n", ev.Symbology, ev.Value)
	return err
}

func (l *Log) Close() error { return nil }

// Multi fans an event out to several notifiers
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
