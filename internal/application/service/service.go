// Package service holds the billing use cases. Each operation runs its writes
// in one transaction and publishes change events only after commit.
package service

import (
	"context"
	"time"

	"github.com/garyjia/invoice-engine/internal/application/dispatcher"
	"github.com/garyjia/invoice-engine/internal/domain/event"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Clock returns the current time
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// publishAll sends events in order; a nil publisher drops them
func publishAll(ctx context.Context, p dispatcher.Publisher, events ...*event.Event) {
	if p == nil {
		return
	}
	for _, evt := range events {
		if evt != nil {
			p.Publish(ctx, evt)
		}
	}
}
